package solana

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxMemoBytes is the largest memo instruction payload the memo program
// accepts in a single-signer transaction.
const MaxMemoBytes = 566

// Transaction is a treasury transaction reduced to what the memo feed needs.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64  // lamports moved by the system transfer, 0 if none
	Memo        *string // parsed from the memo instruction
	FromAddress *string // transfer source, nil if it cannot be determined
	ToAddress   *string // transfer destination
	Err         *string // nil if the transaction succeeded
}

// memoPayload is the JSON document carried by every memo write.
type memoPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func encodeMemo(name, message string) ([]byte, error) {
	data, err := json.Marshal(memoPayload{Name: name, Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode memo: %w", err)
	}
	if len(data) > MaxMemoBytes {
		return nil, fmt.Errorf("memo is %d bytes, limit is %d", len(data), MaxMemoBytes)
	}
	return data, nil
}

// decodeMemo accepts only payloads written by encodeMemo with both fields set.
func decodeMemo(s string) (memoPayload, bool) {
	var p memoPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &p); err != nil {
		return memoPayload{}, false
	}
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Message) == "" {
		return memoPayload{}, false
	}
	return p, true
}
