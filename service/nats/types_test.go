package nats

import (
	"testing"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromLifecycle(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := memo.Event{
		Kind: memo.EventLifecycle,
		At:   at,
		From: memo.Broadcast,
		Lifecycle: &memo.LifecycleView{
			Handle:  "h-1",
			State:   memo.Failed,
			Reason:  memo.ExecutionReverted,
			Message: "execution reverted",
			TxRef:   "0xabc",
		},
	}

	out := FromLifecycle(ev)
	require.NotNil(t, out)
	assert.Equal(t, "h-1", out.Handle)
	assert.Equal(t, "broadcast", out.From)
	assert.Equal(t, "failed", out.State)
	assert.Equal(t, "execution_reverted", out.Reason)
	assert.Equal(t, "0xabc", out.TxRef)
	assert.Equal(t, at, out.At)
	assert.Empty(t, out.DisplayName)
	assert.Equal(t, "memos.lifecycle.h-1", LifecycleSubject(out.Handle))
}

func TestFromLifecycle_CarriesSubmittedFields(t *testing.T) {
	out := FromLifecycle(memo.Event{
		Kind:      memo.EventLifecycle,
		Lifecycle: &memo.LifecycleView{Handle: "h-2", State: memo.AwaitingApproval},
		Form:      &memo.FormState{DisplayName: "alice", Text: "gm"},
	})
	require.NotNil(t, out)
	assert.Equal(t, "idle", out.From)
	assert.Equal(t, "alice", out.DisplayName)
	assert.Equal(t, "gm", out.Text)
	assert.Empty(t, out.Reason)
}

func TestFromFeed(t *testing.T) {
	out := FromFeed(memo.Event{Kind: memo.EventFeedRefreshed, FeedSize: 4})
	require.NotNil(t, out)
	assert.Equal(t, "refreshed", out.Status)
	assert.Equal(t, 4, out.FeedSize)

	out = FromFeed(memo.Event{Kind: memo.EventFeedError, Error: "rpc down"})
	require.NotNil(t, out)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "rpc down", out.Error)

	assert.Nil(t, FromFeed(memo.Event{Kind: memo.EventForm}))
	assert.Nil(t, FromLifecycle(memo.Event{Kind: memo.EventFeedRefreshed}))
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := t.Context()

	require.NoError(t, m.PublishLifecycle(ctx, &LifecycleEvent{Handle: "a"}))
	require.NoError(t, m.PublishLifecycle(ctx, &LifecycleEvent{Handle: "b"}))
	require.NoError(t, m.PublishMemoBatch(ctx, []*MemoEvent{FromRecord(memo.Record{DisplayName: "x"}, 0)}))

	assert.Len(t, m.GetLifecycleEvents(), 2)
	assert.Len(t, m.GetLifecycleEventsForHandle("a"), 1)
	assert.Len(t, m.GetMemoEvents(), 1)

	m.SetPublishError(assert.AnError)
	assert.ErrorIs(t, m.PublishFeed(ctx, &FeedEvent{}), assert.AnError)

	m.Reset()
	assert.Empty(t, m.GetLifecycleEvents())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
