package db

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionLifecycle(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond) // Truncate for comparison
	value, _ := new(big.Int).SetString("1000000000000000", 10)

	sub, err := store.CreateSubmission(ctx, CreateSubmissionParams{
		Handle:      "h-1",
		Backend:     "evm",
		DisplayName: "alice",
		Text:        "gm",
		Value:       value,
		State:       "awaiting_approval",
		CreatedAt:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", sub.State)
	assert.Equal(t, 0, value.Cmp(sub.Value))
	assert.Nil(t, sub.TxRef)
	assert.WithinDuration(t, now, sub.CreatedAt, time.Microsecond)

	txRef := "0xabc"
	sub, err = store.UpdateSubmissionState(ctx, UpdateSubmissionStateParams{
		Handle:    "h-1",
		State:     "broadcast",
		TxRef:     &txRef,
		UpdatedAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	require.NotNil(t, sub.TxRef)
	assert.Equal(t, txRef, *sub.TxRef)

	reason, message := "execution_reverted", "execution reverted"
	sub, err = store.UpdateSubmissionState(ctx, UpdateSubmissionStateParams{
		Handle:    "h-1",
		State:     "failed",
		Reason:    &reason,
		Message:   &message,
		UpdatedAt: now.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", sub.State)
	require.NotNil(t, sub.TxRef, "tx ref kept when not updated")
	assert.Equal(t, txRef, *sub.TxRef)
	require.NotNil(t, sub.Reason)
	assert.Equal(t, reason, *sub.Reason)

	got, err := store.GetSubmission(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.State)

	_, err = store.GetSubmission(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.UpdateSubmissionState(ctx, UpdateSubmissionStateParams{Handle: "missing", State: "failed", UpdatedAt: now})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSubmissions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, state := range []string{"confirmed", "failed", "confirmed"} {
		_, err := store.CreateSubmission(ctx, CreateSubmissionParams{
			Handle:      string(rune('a' + i)),
			Backend:     "evm",
			DisplayName: "n",
			Text:        "t",
			Value:       big.NewInt(1),
			State:       state,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := store.ListSubmissions(ctx, ListSubmissionsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Handle, "newest first")

	confirmed, err := store.ListSubmissions(ctx, ListSubmissionsParams{State: "confirmed", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, confirmed, 2)

	counts, err := store.CountSubmissionsByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["confirmed"])
	assert.Equal(t, int64(1), counts["failed"])
}

func TestInsertMemos_Dedup(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Second)

	batch := []InsertMemoParams{
		{Position: 0, Sender: "0x1", DisplayName: "alice", Text: "gm", SubmittedAt: t0},
		{Position: 1, Sender: "0x2", DisplayName: "bob", Text: "gn", SubmittedAt: t0.Add(time.Minute)},
	}
	inserted, err := store.InsertMemos(ctx, "evm", batch)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	batch = append(batch, InsertMemoParams{Position: 2, Sender: "0x3", DisplayName: "carol", Text: "hi", SubmittedAt: t0.Add(2 * time.Minute)})
	inserted, err = store.InsertMemos(ctx, "evm", batch)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "carol", inserted[0].DisplayName)
	assert.Equal(t, "pos:2", inserted[0].Key)

	memos, err := store.ListMemos(ctx, ListMemosParams{Backend: "evm", Limit: 10})
	require.NoError(t, err)
	require.Len(t, memos, 3)
	assert.Equal(t, int64(2), memos[0].Position)

	n, err := store.CountMemos(ctx, "evm")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = store.CountMemos(ctx, "solana")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestListMemos_WindowedPositions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Second)

	// First read: a window of three signatures.
	_, err := store.InsertMemos(ctx, "solana", []InsertMemoParams{
		{Position: 0, Sender: "a", DisplayName: "m0", Text: "x", SubmittedAt: t0, TxRef: "sig0"},
		{Position: 1, Sender: "a", DisplayName: "m1", Text: "x", SubmittedAt: t0.Add(time.Minute), TxRef: "sig1"},
		{Position: 2, Sender: "a", DisplayName: "m2", Text: "x", SubmittedAt: t0.Add(2 * time.Minute), TxRef: "sig2"},
	})
	require.NoError(t, err)

	// Next read: sig0 slid out, so the newest memo lands at a reused position.
	inserted, err := store.InsertMemos(ctx, "solana", []InsertMemoParams{
		{Position: 0, Sender: "a", DisplayName: "m1", Text: "x", SubmittedAt: t0.Add(time.Minute), TxRef: "sig1"},
		{Position: 1, Sender: "a", DisplayName: "m2", Text: "x", SubmittedAt: t0.Add(2 * time.Minute), TxRef: "sig2"},
		{Position: 2, Sender: "a", DisplayName: "m3", Text: "x", SubmittedAt: t0.Add(3 * time.Minute), TxRef: "sig3"},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	memos, err := store.ListMemos(ctx, ListMemosParams{Backend: "solana", Limit: 10})
	require.NoError(t, err)
	var names []string
	for _, m := range memos {
		names = append(names, m.DisplayName)
	}
	assert.Equal(t, []string{"m3", "m2", "m1", "m0"}, names)
}

func TestMemoKey(t *testing.T) {
	assert.Equal(t, "5xSig", MemoKey("5xSig", 3))
	assert.Equal(t, "pos:3", MemoKey("", 3))
}

func TestNumericToBigInt(t *testing.T) {
	assert.Equal(t, "0", numericToBigInt(pgtype.Numeric{}).String())
	assert.Equal(t, "1500", numericToBigInt(pgtype.Numeric{Int: big.NewInt(15), Exp: 2, Valid: true}).String())
	assert.Equal(t, "15", numericToBigInt(pgtype.Numeric{Int: big.NewInt(1500), Exp: -2, Valid: true}).String())
}

type fakeSubmissionStore struct {
	created []CreateSubmissionParams
	updated []UpdateSubmissionStateParams
}

func (f *fakeSubmissionStore) CreateSubmission(ctx context.Context, p CreateSubmissionParams) (*Submission, error) {
	f.created = append(f.created, p)
	return &Submission{Handle: p.Handle}, nil
}

func (f *fakeSubmissionStore) UpdateSubmissionState(ctx context.Context, p UpdateSubmissionStateParams) (*Submission, error) {
	f.updated = append(f.updated, p)
	return &Submission{Handle: p.Handle}, nil
}

func TestRecordLifecycle(t *testing.T) {
	f := &fakeSubmissionStore{}
	ctx := context.Background()
	value := big.NewInt(42)

	require.NoError(t, RecordLifecycle(ctx, f, "evm", value, memo.Event{
		Kind:      memo.EventLifecycle,
		Lifecycle: &memo.LifecycleView{Handle: "h", State: memo.AwaitingApproval},
		Form:      &memo.FormState{DisplayName: "alice", Text: "gm"},
	}))
	require.NoError(t, RecordLifecycle(ctx, f, "evm", value, memo.Event{
		Kind:      memo.EventLifecycle,
		Lifecycle: &memo.LifecycleView{Handle: "h", State: memo.Broadcast, TxRef: "0x1"},
	}))
	require.NoError(t, RecordLifecycle(ctx, f, "evm", value, memo.Event{
		Kind:      memo.EventLifecycle,
		Lifecycle: &memo.LifecycleView{Handle: "h", State: memo.Failed, Reason: memo.Timeout, Message: "no confirmation within timeout", TxRef: "0x1"},
	}))
	require.NoError(t, RecordLifecycle(ctx, f, "evm", value, memo.Event{Kind: memo.EventFeedRefreshed}))

	require.Len(t, f.created, 1)
	assert.Equal(t, "alice", f.created[0].DisplayName)
	assert.Equal(t, "awaiting_approval", f.created[0].State)
	assert.Equal(t, value, f.created[0].Value)

	require.Len(t, f.updated, 2)
	assert.Equal(t, "broadcast", f.updated[0].State)
	assert.Nil(t, f.updated[0].Reason)
	require.NotNil(t, f.updated[1].Reason)
	assert.Equal(t, "timeout", *f.updated[1].Reason)
}
