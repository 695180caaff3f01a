package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	natspkg "github.com/brojonat/memoboard/service/nats"
	"go.temporal.io/sdk/temporal"
)

// IndexMemosInput contains the input parameters for one index run.
type IndexMemosInput struct {
	Backend string `json:"backend"` // "evm" or "solana"
}

// IndexMemosResult summarizes one index run.
type IndexMemosResult struct {
	Backend   string    `json:"backend"`
	Read      int       `json:"read"`
	Indexed   int       `json:"indexed"`
	Published int       `json:"published"`
	IndexTime time.Time `json:"index_time"`
	Error     *string   `json:"error,omitempty"`
}

// ReadLedgerInput contains parameters for the ReadLedger activity.
type ReadLedgerInput struct {
	Backend string `json:"backend"`
}

// ReadLedgerResult holds every record on the ledger, oldest first.
type ReadLedgerResult struct {
	Records []memo.Record `json:"records"`
}

// IndexedMemo is a record together with its position in ledger order.
type IndexedMemo struct {
	Position int64       `json:"position"`
	Record   memo.Record `json:"record"`
}

// StoreMemosInput contains parameters for the StoreMemos activity.
type StoreMemosInput struct {
	Backend string        `json:"backend"`
	Records []memo.Record `json:"records"` // oldest first; index is the position
}

// StoreMemosResult contains the memos that were new to the index.
type StoreMemosResult struct {
	Inserted []IndexedMemo `json:"inserted"`
	Skipped  int           `json:"skipped"` // already indexed
}

// PublishMemosInput contains parameters for the PublishMemos activity.
type PublishMemosInput struct {
	Backend string        `json:"backend"`
	Memos   []IndexedMemo `json:"memos"`
}

// PublishMemosResult contains the number of memos published.
type PublishMemosResult struct {
	Published int `json:"published"`
}

// ReportIndexRunInput carries the outcome of one workflow run for metrics.
type ReportIndexRunInput struct {
	Status   string        `json:"status"` // "success" or "error"
	Duration time.Duration `json:"duration"`
}

// LedgerReader is the read half of a ledger gateway.
type LedgerReader interface {
	ReadAll(ctx context.Context) ([]memo.Record, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	InsertMemos(ctx context.Context, backend string, memos []db.InsertMemoParams) ([]*db.Memo, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishMemoBatch(ctx context.Context, events []*natspkg.MemoEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	backend   string
	ledger    LedgerReader
	store     StoreInterface
	publisher PublisherInterface // optional
	metrics   *metrics.Metrics   // optional
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// The ledger serves exactly one backend. If publisher or metrics is nil, that
// step is skipped.
func NewActivities(
	backend string,
	ledger LedgerReader,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		backend:   backend,
		ledger:    ledger,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ReadLedger reads every record from the ledger.
func (a *Activities) ReadLedger(ctx context.Context, input ReadLedgerInput) (*ReadLedgerResult, error) {
	defer a.observe("ReadLedger", time.Now())

	if err := a.checkBackend(input.Backend); err != nil {
		return nil, err
	}

	records, err := a.ledger.ReadAll(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read ledger", "backend", input.Backend, "error", err)
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	a.logger.InfoContext(ctx, "read ledger", "backend", input.Backend, "count", len(records))
	return &ReadLedgerResult{Records: records}, nil
}

// StoreMemos writes records to the index and returns the ones that were new.
// Re-running with the same records inserts nothing.
func (a *Activities) StoreMemos(ctx context.Context, input StoreMemosInput) (*StoreMemosResult, error) {
	defer a.observe("StoreMemos", time.Now())

	if err := a.checkBackend(input.Backend); err != nil {
		return nil, err
	}

	params := make([]db.InsertMemoParams, len(input.Records))
	for i, r := range input.Records {
		params[i] = db.InsertMemoParams{
			Position:    int64(i),
			Sender:      r.Sender,
			DisplayName: r.DisplayName,
			Text:        r.Text,
			SubmittedAt: r.SubmittedAt,
			TxRef:       r.TxRef,
		}
	}

	inserted, err := a.store.InsertMemos(ctx, input.Backend, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to store memos",
			"backend", input.Backend,
			"count", len(params),
			"error", err,
		)
		return nil, fmt.Errorf("failed to store memos: %w", err)
	}

	result := &StoreMemosResult{
		Inserted: make([]IndexedMemo, 0, len(inserted)),
		Skipped:  len(params) - len(inserted),
	}
	for _, m := range inserted {
		var txRef string
		if m.TxRef != nil {
			txRef = *m.TxRef
		}
		result.Inserted = append(result.Inserted, IndexedMemo{
			Position: m.Position,
			Record: memo.Record{
				Sender:      m.Sender,
				DisplayName: m.DisplayName,
				Text:        m.Text,
				SubmittedAt: m.SubmittedAt,
				TxRef:       txRef,
			},
		})
	}

	if a.metrics != nil {
		a.metrics.RecordMemosIndexed(len(inserted))
	}

	a.logger.InfoContext(ctx, "stored memos",
		"backend", input.Backend,
		"inserted", len(result.Inserted),
		"skipped", result.Skipped,
	)
	return result, nil
}

// PublishMemos announces newly indexed memos on NATS.
func (a *Activities) PublishMemos(ctx context.Context, input PublishMemosInput) (*PublishMemosResult, error) {
	defer a.observe("PublishMemos", time.Now())

	if a.publisher == nil || len(input.Memos) == 0 {
		return &PublishMemosResult{}, nil
	}

	events := make([]*natspkg.MemoEvent, len(input.Memos))
	for i, m := range input.Memos {
		events[i] = natspkg.FromRecord(m.Record, m.Position)
	}

	if err := a.publisher.PublishMemoBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish memos to NATS",
			"backend", input.Backend,
			"count", len(events),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish memos: %w", err)
	}

	a.logger.DebugContext(ctx, "published memos to NATS", "backend", input.Backend, "count", len(events))
	return &PublishMemosResult{Published: len(events)}, nil
}

// ReportIndexRun records the outcome of a workflow run. It runs as a local
// activity because workflow code cannot touch metrics directly.
func (a *Activities) ReportIndexRun(ctx context.Context, input ReportIndexRunInput) error {
	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(input.Status, input.Duration.Seconds())
	}
	return nil
}

func (a *Activities) checkBackend(backend string) error {
	if backend != a.backend {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("worker serves backend %q, got %q", a.backend, backend),
			"BackendMismatch",
			nil,
		)
	}
	return nil
}

func (a *Activities) observe(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}
