package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MemoBoardABI is the callable surface of the memo board contract:
// a payable write that appends one memo and a view returning all of them in
// insertion order.
const MemoBoardABI = `[
	{
		"inputs": [
			{"internalType": "string", "name": "_name", "type": "string"},
			{"internalType": "string", "name": "_message", "type": "string"}
		],
		"name": "buyCoffee",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getMemos",
		"outputs": [
			{
				"components": [
					{"internalType": "address", "name": "from", "type": "address"},
					{"internalType": "uint256", "name": "timestamp", "type": "uint256"},
					{"internalType": "string", "name": "name", "type": "string"},
					{"internalType": "string", "name": "message", "type": "string"}
				],
				"internalType": "struct BuyMeACoffee.Memo[]",
				"name": "",
				"type": "tuple[]"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const (
	methodWrite = "buyCoffee"
	methodRead  = "getMemos"
)

// memoTuple mirrors the contract's Memo struct. Field names must match the
// ABI component names for abi.ConvertType.
type memoTuple struct {
	From      common.Address
	Timestamp *big.Int
	Name      string
	Message   string
}

// ParseABI parses MemoBoardABI.
func ParseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(MemoBoardABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse memo board ABI: %w", err)
	}
	return parsed, nil
}
