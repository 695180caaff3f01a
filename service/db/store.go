package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/brojonat/memoboard/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics makes the store record query durations.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Submission is the audit row for one submitted write.
type Submission struct {
	Handle      string
	Backend     string
	DisplayName string
	Text        string
	Value       *big.Int
	State       string
	Reason      *string
	Message     *string
	TxRef       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateSubmissionParams contains the parameters for creating a submission.
type CreateSubmissionParams struct {
	Handle      string
	Backend     string
	DisplayName string
	Text        string
	Value       *big.Int
	State       string
	CreatedAt   time.Time
}

// UpdateSubmissionStateParams moves a submission to a new lifecycle state.
type UpdateSubmissionStateParams struct {
	Handle    string
	State     string
	Reason    *string
	Message   *string
	TxRef     *string
	UpdatedAt time.Time
}

// ListSubmissionsParams contains filter and pagination parameters.
type ListSubmissionsParams struct {
	State  string // empty for all states
	Limit  int32
	Offset int32
}

// Memo is an indexed ledger record.
type Memo struct {
	Backend     string
	Key         string
	Position    int64
	Sender      string
	DisplayName string
	Text        string
	SubmittedAt time.Time
	TxRef       *string
	IndexedAt   time.Time
}

// InsertMemoParams describes one record to index.
type InsertMemoParams struct {
	Position    int64
	Sender      string
	DisplayName string
	Text        string
	SubmittedAt time.Time
	TxRef       string
}

// ListMemosParams contains pagination parameters.
type ListMemosParams struct {
	Backend string
	Limit   int32
	Offset  int32
}

const submissionColumns = `handle, backend, display_name, text, value, state, reason, message, tx_ref, created_at, updated_at`

const memoColumns = `backend, memo_key, position, sender, display_name, text, submitted_at, tx_ref, indexed_at`

// CreateSubmission inserts a new submission.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (_ *Submission, err error) {
	defer s.observe("insert", "submissions", time.Now(), &err)

	if params.Value == nil {
		return nil, fmt.Errorf("submission value is required")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (handle, backend, display_name, text, value, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+submissionColumns,
		params.Handle,
		params.Backend,
		params.DisplayName,
		params.Text,
		pgtype.Numeric{Int: params.Value, Valid: true},
		params.State,
		pgtype.Timestamptz{Time: params.CreatedAt, Valid: true},
	)
	return scanSubmission(row)
}

// UpdateSubmissionState records a lifecycle transition. Nil optional fields
// keep their stored value.
func (s *Store) UpdateSubmissionState(ctx context.Context, params UpdateSubmissionStateParams) (_ *Submission, err error) {
	defer s.observe("update", "submissions", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET state = $2,
		    reason = COALESCE($3, reason),
		    message = COALESCE($4, message),
		    tx_ref = COALESCE($5, tx_ref),
		    updated_at = $6
		WHERE handle = $1
		RETURNING `+submissionColumns,
		params.Handle,
		params.State,
		pgtextFromStringPtr(params.Reason),
		pgtextFromStringPtr(params.Message),
		pgtextFromStringPtr(params.TxRef),
		pgtype.Timestamptz{Time: params.UpdatedAt, Valid: true},
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", params.Handle, ErrNotFound)
	}
	return sub, err
}

// GetSubmission retrieves a submission by handle.
func (s *Store) GetSubmission(ctx context.Context, handle string) (_ *Submission, err error) {
	defer s.observe("select", "submissions", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE handle = $1`, handle)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", handle, ErrNotFound)
	}
	return sub, err
}

// ListSubmissions returns submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) (_ []*Submission, err error) {
	defer s.observe("select", "submissions", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.State, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CountSubmissionsByState returns the number of submissions per state.
func (s *Store) CountSubmissionsByState(ctx context.Context) (_ map[string]int64, err error) {
	defer s.observe("select", "submissions", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM submissions GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// InsertMemos indexes records in one transaction and returns only the rows
// that were not already present.
func (s *Store) InsertMemos(ctx context.Context, backend string, memos []InsertMemoParams) (_ []*Memo, err error) {
	if len(memos) == 0 {
		return nil, nil
	}
	defer s.observe("insert", "memos", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var inserted []*Memo
	for _, m := range memos {
		row := tx.QueryRow(ctx, `
			INSERT INTO memos (backend, memo_key, position, sender, display_name, text, submitted_at, tx_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (backend, memo_key) DO NOTHING
			RETURNING `+memoColumns,
			backend,
			MemoKey(m.TxRef, m.Position),
			m.Position,
			m.Sender,
			m.DisplayName,
			m.Text,
			pgtype.Timestamptz{Time: m.SubmittedAt, Valid: true},
			pgtextFromString(m.TxRef),
		)
		memo, err := scanMemo(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // already indexed
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert memo at position %d: %w", m.Position, err)
		}
		inserted = append(inserted, memo)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit memos: %w", err)
	}
	return inserted, nil
}

// ListMemos returns indexed memos for a backend, most recent first.
// Position only breaks ties: on a windowed backend it is relative to the
// window the indexer read, not to the whole ledger.
func (s *Store) ListMemos(ctx context.Context, params ListMemosParams) (_ []*Memo, err error) {
	defer s.observe("select", "memos", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT `+memoColumns+`
		FROM memos
		WHERE backend = $1
		ORDER BY submitted_at DESC, position DESC
		LIMIT $2 OFFSET $3`,
		params.Backend, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemos returns the number of indexed memos for a backend.
func (s *Store) CountMemos(ctx context.Context, backend string) (n int64, err error) {
	defer s.observe("select", "memos", time.Now(), &err)

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memos WHERE backend = $1`, backend).Scan(&n)
	return n, err
}

// MemoKey is the dedup key for an indexed record.
func MemoKey(txRef string, position int64) string {
	if txRef != "" {
		return txRef
	}
	return "pos:" + strconv.FormatInt(position, 10)
}

func (s *Store) observe(operation, table string, start time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), *err)
	}
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		sub                   Submission
		value                 pgtype.Numeric
		reason, message, txRf pgtype.Text
		created, updated      pgtype.Timestamptz
	)
	err := row.Scan(
		&sub.Handle,
		&sub.Backend,
		&sub.DisplayName,
		&sub.Text,
		&value,
		&sub.State,
		&reason,
		&message,
		&txRf,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}
	sub.Value = numericToBigInt(value)
	sub.Reason = stringPtrFromPgtext(reason)
	sub.Message = stringPtrFromPgtext(message)
	sub.TxRef = stringPtrFromPgtext(txRf)
	sub.CreatedAt = created.Time
	sub.UpdatedAt = updated.Time
	return &sub, nil
}

func scanMemo(row pgx.Row) (*Memo, error) {
	var (
		m                  Memo
		txRef              pgtype.Text
		submitted, indexed pgtype.Timestamptz
	)
	err := row.Scan(
		&m.Backend,
		&m.Key,
		&m.Position,
		&m.Sender,
		&m.DisplayName,
		&m.Text,
		&submitted,
		&txRef,
		&indexed,
	)
	if err != nil {
		return nil, err
	}
	m.SubmittedAt = submitted.Time
	m.TxRef = stringPtrFromPgtext(txRef)
	m.IndexedAt = indexed.Time
	return &m, nil
}

// Helper functions for converting between pgtype and Go types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func pgtextFromString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

// numericToBigInt drops any fractional part; values are whole base units.
func numericToBigInt(n pgtype.Numeric) *big.Int {
	if !n.Valid || n.Int == nil {
		return new(big.Int)
	}
	out := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil))
	}
	return out
}
