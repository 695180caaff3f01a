package db

import (
	"context"
	"fmt"
	"math/big"

	"github.com/brojonat/memoboard/service/memo"
)

// SubmissionStore is the subset of Store the recorder writes through.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, error)
	UpdateSubmissionState(ctx context.Context, params UpdateSubmissionStateParams) (*Submission, error)
}

// RecordLifecycle persists one controller lifecycle event: entering
// AwaitingApproval creates the row, later transitions update it. Events of
// other kinds are ignored.
func RecordLifecycle(ctx context.Context, store SubmissionStore, backend string, value *big.Int, ev memo.Event) error {
	if ev.Kind != memo.EventLifecycle || ev.Lifecycle == nil {
		return nil
	}
	lv := ev.Lifecycle

	if lv.State == memo.AwaitingApproval {
		params := CreateSubmissionParams{
			Handle:    string(lv.Handle),
			Backend:   backend,
			Value:     value,
			State:     lv.State.String(),
			CreatedAt: lv.StartedAt,
		}
		if ev.Form != nil {
			params.DisplayName = ev.Form.DisplayName
			params.Text = ev.Form.Text
		}
		if _, err := store.CreateSubmission(ctx, params); err != nil {
			return fmt.Errorf("failed to create submission %s: %w", lv.Handle, err)
		}
		return nil
	}

	params := UpdateSubmissionStateParams{
		Handle:    string(lv.Handle),
		State:     lv.State.String(),
		UpdatedAt: lv.UpdatedAt,
	}
	if lv.TxRef != "" {
		params.TxRef = &lv.TxRef
	}
	if lv.State == memo.Failed {
		reason := lv.Reason.String()
		params.Reason = &reason
		params.Message = &lv.Message
	}
	if _, err := store.UpdateSubmissionState(ctx, params); err != nil {
		return fmt.Errorf("failed to update submission %s: %w", lv.Handle, err)
	}
	return nil
}
