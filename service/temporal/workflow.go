package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// IndexMemosWorkflow copies the ledger's memos into the database.
// It is triggered by a Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Read every record from the ledger (ReadLedger)
// 2. Insert the ones not yet indexed (StoreMemos)
// 3. Announce the new ones on NATS (PublishMemos, best-effort)
func IndexMemosWorkflow(ctx workflow.Context, input IndexMemosInput) (result *IndexMemosResult, err error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("IndexMemosWorkflow started", "backend", input.Backend)

	started := workflow.Now(ctx)
	result = &IndexMemosResult{
		Backend:   input.Backend,
		IndexTime: started,
	}

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			msg := err.Error()
			result.Error = &msg
		}
		report := ReportIndexRunInput{
			Status:   status,
			Duration: workflow.Now(ctx).Sub(started),
		}
		lctx := workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{
			StartToCloseTimeout: 5 * time.Second,
		})
		// By name: the registered instance holds the metrics.
		if rerr := workflow.ExecuteLocalActivity(lctx, "ReportIndexRun", report).Get(lctx, nil); rerr != nil {
			logger.Warn("failed to report index run", "error", rerr)
		}
	}()

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Read the ledger
	var read *ReadLedgerResult
	if err := workflow.ExecuteActivity(ctx, a.ReadLedger, ReadLedgerInput{Backend: input.Backend}).Get(ctx, &read); err != nil {
		logger.Error("failed to read ledger", "backend", input.Backend, "error", err)
		return result, fmt.Errorf("failed to read ledger: %w", err)
	}
	result.Read = len(read.Records)

	if len(read.Records) == 0 {
		logger.Info("ledger is empty", "backend", input.Backend)
		return result, nil
	}

	// Step 2: Write new memos
	var stored *StoreMemosResult
	storeInput := StoreMemosInput{Backend: input.Backend, Records: read.Records}
	if err := workflow.ExecuteActivity(ctx, a.StoreMemos, storeInput).Get(ctx, &stored); err != nil {
		logger.Error("failed to store memos", "backend", input.Backend, "error", err)
		return result, fmt.Errorf("failed to store memos: %w", err)
	}
	result.Indexed = len(stored.Inserted)

	if len(stored.Inserted) == 0 {
		logger.Info("no new memos", "backend", input.Backend, "read", result.Read)
		return result, nil
	}

	// Step 3: Publish. The memos are already persisted, so a failure here does
	// not fail the run.
	var published *PublishMemosResult
	publishInput := PublishMemosInput{Backend: input.Backend, Memos: stored.Inserted}
	if err := workflow.ExecuteActivity(ctx, a.PublishMemos, publishInput).Get(ctx, &published); err != nil {
		logger.Warn("failed to publish memos", "backend", input.Backend, "error", err)
	} else {
		result.Published = published.Published
	}

	logger.Info("IndexMemosWorkflow completed successfully",
		"backend", input.Backend,
		"read", result.Read,
		"indexed", result.Indexed,
		"published", result.Published,
	)

	return result, nil
}
