package solana

import (
	"context"
	"fmt"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/gagliardetto/solana-go"
)

// Approver authorizes a transaction by signing it as fee payer. Declining
// must return an error wrapping memo.ErrUserRejected.
type Approver interface {
	PublicKey() solana.PublicKey
	Approve(ctx context.Context, tx *solana.Transaction, lamports uint64) error
}

// KeypairApprover signs with a local keypair.
type KeypairApprover struct {
	key solana.PrivateKey
}

// NewKeypairApprover loads a solana-keygen JSON keypair file.
func NewKeypairApprover(path string) (*KeypairApprover, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return &KeypairApprover{key: key}, nil
}

// NewKeypairApproverFromKey signs with an in-memory key. Tests use it with a
// throwaway wallet.
func NewKeypairApproverFromKey(key solana.PrivateKey) *KeypairApprover {
	return &KeypairApprover{key: key}
}

// PublicKey returns the payer address.
func (a *KeypairApprover) PublicKey() solana.PublicKey { return a.key.PublicKey() }

// Approve signs tx with the keypair. A signing failure counts as a rejection.
func (a *KeypairApprover) Approve(ctx context.Context, tx *solana.Transaction, lamports uint64) error {
	pub := a.key.PublicKey()
	_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &a.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: signing failed: %v", memo.ErrUserRejected, err)
	}
	return nil
}

// LimitApprover declines transfers above Max lamports.
type LimitApprover struct {
	Approver
	Max uint64
}

// Approve rejects over-limit transfers before delegating to the wrapped approver.
func (a LimitApprover) Approve(ctx context.Context, tx *solana.Transaction, lamports uint64) error {
	if a.Max > 0 && lamports > a.Max {
		return fmt.Errorf("%w: %d lamports exceeds limit %d", memo.ErrUserRejected, lamports, a.Max)
	}
	return a.Approver.Approve(ctx, tx, lamports)
}
