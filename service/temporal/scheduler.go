package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedules that keep the memo index current.
// Each ledger backend gets its own schedule that triggers IndexMemosWorkflow.
type Scheduler interface {
	// UpsertIndexSchedule creates the schedule for a backend, or updates its
	// interval if it already exists.
	UpsertIndexSchedule(ctx context.Context, backend string, interval time.Duration) error

	// DeleteIndexSchedule deletes the schedule for a backend.
	DeleteIndexSchedule(ctx context.Context, backend string) error

	// TriggerIndex starts one index run now and returns its workflow ID.
	TriggerIndex(ctx context.Context, backend string) (string, error)
}

// ScheduleID returns the Temporal schedule ID for a backend.
func ScheduleID(backend string) string {
	return "index-memos-" + backend
}
