package nats

import (
	"time"

	"github.com/brojonat/memoboard/service/memo"
)

// LifecycleEvent is published to "memos.lifecycle.{handle}" on every write
// lifecycle transition.
type LifecycleEvent struct {
	Handle string `json:"handle"`
	From   string `json:"from"`
	State  string `json:"state"`

	// Failure details, only set when State is "failed"
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	TxRef string `json:"tx_ref,omitempty"`

	// Submitted fields, only set when entering "awaiting_approval"
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text,omitempty"`

	At          time.Time `json:"at"`
	PublishedAt time.Time `json:"published_at"`
}

// FeedEvent is published to "memos.feed" after each feed refresh.
type FeedEvent struct {
	Status      string    `json:"status"` // "refreshed" or "error"
	FeedSize    int       `json:"feed_size"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
	PublishedAt time.Time `json:"published_at"`
}

// MemoEvent is published to "memos.indexed" for each memo the indexer stores
// for the first time.
type MemoEvent struct {
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
	TxRef       string    `json:"tx_ref,omitempty"`
	Position    int64     `json:"position"`
	PublishedAt time.Time `json:"published_at"`
}

// FromLifecycle converts a controller lifecycle event for publishing.
// It returns nil for events of any other kind.
func FromLifecycle(ev memo.Event) *LifecycleEvent {
	if ev.Kind != memo.EventLifecycle || ev.Lifecycle == nil {
		return nil
	}
	out := &LifecycleEvent{
		Handle:      string(ev.Lifecycle.Handle),
		From:        ev.From.String(),
		State:       ev.Lifecycle.State.String(),
		Reason:      ev.Lifecycle.Reason.String(),
		Message:     ev.Lifecycle.Message,
		TxRef:       ev.Lifecycle.TxRef,
		At:          ev.At,
		PublishedAt: time.Now().UTC(),
	}
	if ev.Form != nil {
		out.DisplayName = ev.Form.DisplayName
		out.Text = ev.Form.Text
	}
	return out
}

// FromFeed converts a controller feed event for publishing.
// It returns nil for events of any other kind.
func FromFeed(ev memo.Event) *FeedEvent {
	var status string
	switch ev.Kind {
	case memo.EventFeedRefreshed:
		status = "refreshed"
	case memo.EventFeedError:
		status = "error"
	default:
		return nil
	}
	return &FeedEvent{
		Status:      status,
		FeedSize:    ev.FeedSize,
		Error:       ev.Error,
		At:          ev.At,
		PublishedAt: time.Now().UTC(),
	}
}

// FromRecord converts an indexed record for publishing.
func FromRecord(r memo.Record, position int64) *MemoEvent {
	return &MemoEvent{
		Sender:      r.Sender,
		DisplayName: r.DisplayName,
		Text:        r.Text,
		SubmittedAt: r.SubmittedAt,
		TxRef:       r.TxRef,
		Position:    position,
		PublishedAt: time.Now().UTC(),
	}
}
