package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/memoboard/service/metrics"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Backend is the ledger this worker indexes ("evm" or "solana").
	Backend string

	// Dependencies
	Ledger    LedgerReader
	Store     StoreInterface
	Publisher PublisherInterface // Optional: leave nil (untyped) to skip publishing
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

func (c WorkerConfig) validate() error {
	switch {
	case c.Backend == "":
		return fmt.Errorf("worker requires a backend")
	case c.TaskQueue == "":
		return fmt.Errorf("worker requires a task queue")
	case c.Ledger == nil || c.Store == nil:
		return fmt.Errorf("worker requires a ledger and a store")
	}
	return nil
}

// registry is the part of worker.Worker the indexer registers against. The
// workflow test environment satisfies it too.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

var indexerActivities = []string{"ReadLedger", "StoreMemos", "PublishMemos", "ReportIndexRun"}

// registerIndexer registers IndexMemosWorkflow and its activities. The local
// activity is invoked by name, so it is registered under an explicit one.
func registerIndexer(r registry, a *Activities) {
	r.RegisterWorkflow(IndexMemosWorkflow)
	r.RegisterActivity(a.ReadLedger)
	r.RegisterActivity(a.StoreMemos)
	r.RegisterActivity(a.PublishMemos)
	r.RegisterActivityWithOptions(a.ReportIndexRun, activity.RegisterOptions{Name: "ReportIndexRun"})
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "temporal_worker", "backend", config.Backend)

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	activities := NewActivities(
		config.Backend,
		config.Ledger,
		config.Store,
		config.Publisher,
		config.Metrics,
		logger,
	)
	registerIndexer(w, activities)
	logger.Info("registered indexer", "workflow", "IndexMemosWorkflow", "activities", indexerActivities)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start begins processing workflows and activities.
// This method blocks until Stop is called or an error occurs.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
