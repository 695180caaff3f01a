package temporal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	natspkg "github.com/brojonat/memoboard/service/nats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
)

// Mock ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ReadAll(ctx context.Context) ([]memo.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]memo.Record), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertMemos(ctx context.Context, backend string, memos []db.InsertMemoParams) ([]*db.Memo, error) {
	args := m.Called(ctx, backend, memos)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Memo), args.Error(1)
}

func TestActivities_ReadLedger(t *testing.T) {
	records := testRecords(2)

	tests := []struct {
		name          string
		input         ReadLedgerInput
		setupMock     func(*MockLedger)
		expectedCount int
		expectedError bool
		nonRetryable  bool
	}{
		{
			name:  "reads every record",
			input: ReadLedgerInput{Backend: "evm"},
			setupMock: func(m *MockLedger) {
				m.On("ReadAll", mock.Anything).Return(records, nil)
			},
			expectedCount: 2,
		},
		{
			name:  "gateway error",
			input: ReadLedgerInput{Backend: "evm"},
			setupMock: func(m *MockLedger) {
				m.On("ReadAll", mock.Anything).Return(nil, errors.New("rpc unavailable"))
			},
			expectedError: true,
		},
		{
			name:          "wrong backend",
			input:         ReadLedgerInput{Backend: "solana"},
			setupMock:     func(m *MockLedger) {},
			expectedError: true,
			nonRetryable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockLedger)
			tt.setupMock(ledger)

			activities := NewActivities("evm", ledger, new(MockStore), nil, nil, slog.Default())
			result, err := activities.ReadLedger(context.Background(), tt.input)

			if tt.expectedError {
				require.Error(t, err)
				assert.Nil(t, result)
				var appErr *temporal.ApplicationError
				assert.Equal(t, tt.nonRetryable, errors.As(err, &appErr) && appErr.NonRetryable())
			} else {
				require.NoError(t, err)
				assert.Len(t, result.Records, tt.expectedCount)
			}
			ledger.AssertExpectations(t)
		})
	}
}

func TestActivities_StoreMemos(t *testing.T) {
	records := testRecords(3)
	records[2].TxRef = "5sig"

	t.Run("assigns positions and returns inserted", func(t *testing.T) {
		store := new(MockStore)
		txRef := "5sig"
		store.On("InsertMemos", mock.Anything, "evm", mock.MatchedBy(func(p []db.InsertMemoParams) bool {
			return len(p) == 3 && p[0].Position == 0 && p[2].Position == 2 && p[2].TxRef == "5sig"
		})).Return([]*db.Memo{
			{Backend: "evm", Position: 2, Sender: "0xsender", DisplayName: "ada", Text: "memo", SubmittedAt: records[2].SubmittedAt, TxRef: &txRef},
		}, nil)

		reg := prometheus.NewRegistry()
		activities := NewActivities("evm", new(MockLedger), store, nil, metrics.NewMetrics(reg), slog.Default())
		result, err := activities.StoreMemos(context.Background(), StoreMemosInput{Backend: "evm", Records: records})
		require.NoError(t, err)

		require.Len(t, result.Inserted, 1)
		assert.Equal(t, 2, result.Skipped)
		assert.Equal(t, int64(2), result.Inserted[0].Position)
		assert.Equal(t, records[2], result.Inserted[0].Record)

		want := `
# HELP memos_indexed_total Total number of new memos written to the index
# TYPE memos_indexed_total counter
memos_indexed_total 1
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "memos_indexed_total"))
		store.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("InsertMemos", mock.Anything, "evm", mock.Anything).Return(nil, errors.New("connection refused"))

		activities := NewActivities("evm", new(MockLedger), store, nil, nil, slog.Default())
		result, err := activities.StoreMemos(context.Background(), StoreMemosInput{Backend: "evm", Records: records})
		assert.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("wrong backend", func(t *testing.T) {
		store := new(MockStore)
		activities := NewActivities("evm", new(MockLedger), store, nil, nil, slog.Default())
		_, err := activities.StoreMemos(context.Background(), StoreMemosInput{Backend: "solana", Records: records})
		assert.Error(t, err)
		store.AssertNotCalled(t, "InsertMemos", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestActivities_PublishMemos(t *testing.T) {
	records := testRecords(2)
	memos := indexed(records, 0)

	t.Run("publishes one event per memo", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		activities := NewActivities("evm", new(MockLedger), new(MockStore), pub, nil, slog.Default())

		result, err := activities.PublishMemos(context.Background(), PublishMemosInput{Backend: "evm", Memos: memos})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Published)

		events := pub.GetMemoEvents()
		require.Len(t, events, 2)
		assert.Equal(t, int64(1), events[1].Position)
		assert.Equal(t, "ada", events[0].DisplayName)
	})

	t.Run("publisher error", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats unavailable"))
		activities := NewActivities("evm", new(MockLedger), new(MockStore), pub, nil, slog.Default())

		result, err := activities.PublishMemos(context.Background(), PublishMemosInput{Backend: "evm", Memos: memos})
		assert.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("no publisher", func(t *testing.T) {
		activities := NewActivities("evm", new(MockLedger), new(MockStore), nil, nil, slog.Default())

		result, err := activities.PublishMemos(context.Background(), PublishMemosInput{Backend: "evm", Memos: memos})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Published)
	})
}

func TestActivities_ReportIndexRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	activities := NewActivities("evm", nil, nil, nil, metrics.NewMetrics(reg), slog.Default())

	require.NoError(t, activities.ReportIndexRun(context.Background(), ReportIndexRunInput{Status: "success", Duration: 2 * time.Second}))
	require.NoError(t, activities.ReportIndexRun(context.Background(), ReportIndexRunInput{Status: "error", Duration: time.Second}))

	n, err := testutil.GatherAndCount(reg, "index_workflow_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Without metrics it is a no-op
	bare := NewActivities("evm", nil, nil, nil, nil, nil)
	assert.NoError(t, bare.ReportIndexRun(context.Background(), ReportIndexRunInput{Status: "success"}))
}
