package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Approver authorizes a transaction by signing it. Declining must return an
// error wrapping memo.ErrUserRejected.
type Approver interface {
	Address() common.Address
	Approve(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeyApprover signs every transaction with a local key.
type KeyApprover struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyApprover parses a hex private key, with or without 0x prefix.
func NewKeyApprover(hexKey string) (*KeyApprover, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return NewKeyApproverFromKey(key), nil
}

func NewKeyApproverFromKey(key *ecdsa.PrivateKey) *KeyApprover {
	return &KeyApprover{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (a *KeyApprover) Address() common.Address { return a.address }

func (a *KeyApprover) Approve(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing failed: %v", memo.ErrUserRejected, err)
	}
	return signed, nil
}

// LimitApprover declines transactions whose value exceeds Max before
// delegating to the wrapped approver.
type LimitApprover struct {
	Approver
	Max *big.Int
}

func (a LimitApprover) Approve(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if a.Max != nil && tx.Value().Cmp(a.Max) > 0 {
		return nil, fmt.Errorf("%w: value %s exceeds limit %s", memo.ErrUserRejected, tx.Value(), a.Max)
	}
	return a.Approver.Approve(ctx, tx, chainID)
}
