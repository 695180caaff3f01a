package memo

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Record is one memo entry as stored on the ledger.
// Records are immutable; the ledger's insertion order is chronological.
type Record struct {
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`

	// TxRef identifies the ledger write that produced the record when the
	// backend exposes it (Solana signature). Empty for contract-array reads.
	TxRef string `json:"tx_ref,omitempty"`
}

// Handle correlates one submitted write with its lifecycle.
// A new submission always gets a new handle.
type Handle string

// WriteRequest is what the controller hands to a Gateway for one submission.
type WriteRequest struct {
	Handle      Handle
	DisplayName string
	Text        string
	Value       *big.Int // fixed payment in the ledger's base unit (wei, lamports)
}

// Stage is a lifecycle notification reported by a Gateway.
type Stage int

const (
	// StageBroadcast means the write was approved and accepted for propagation.
	StageBroadcast Stage = iota + 1
	// StageConfirmed means the ledger durably accepted the write.
	StageConfirmed
	// StageFailed means the write failed; StageEvent.Err says why.
	StageFailed
)

// String returns the stage name used in logs and JSON.
func (s Stage) String() string {
	switch s {
	case StageBroadcast:
		return "broadcast"
	case StageConfirmed:
		return "confirmed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the stage as its name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StageEvent is one delivery from a Gateway.
type StageEvent struct {
	Stage Stage
	TxRef string // tx hash or signature, known from StageBroadcast onwards
	Err   error
}

// Gateway abstracts the wallet and the network path to the ledger.
//
// SubmitWrite returns immediately. Stage events are delivered on the returned
// channel in the order the ledger produced them; the gateway closes the channel
// after the terminal event. An error from SubmitWrite itself is a pre-broadcast
// failure.
type Gateway interface {
	SubmitWrite(ctx context.Context, req WriteRequest) (<-chan StageEvent, error)
	ReadAll(ctx context.Context) ([]Record, error)
}

// Sentinel errors gateways wrap so the controller can classify failures.
var (
	// ErrUserRejected means the wallet declined to sign or pay.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrTimeout means a broadcast write was not confirmed in time.
	ErrTimeout = errors.New("no confirmation within timeout")
	// ErrReverted means the ledger rejected a broadcast write.
	ErrReverted = errors.New("execution reverted")
	// ErrGatewayClosed means the stage stream ended without a terminal event.
	ErrGatewayClosed = errors.New("gateway closed before a final result")
)
