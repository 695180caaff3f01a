package memo

import "time"

// EventKind names what changed in the controller.
type EventKind string

const (
	// EventLifecycle is a lifecycle transition. Never dropped.
	EventLifecycle EventKind = "lifecycle"
	// EventStaleDiscarded is a stage delivery for a superseded handle.
	EventStaleDiscarded EventKind = "stale_discarded"
	// EventFeedRefreshed is a successful feed read.
	EventFeedRefreshed EventKind = "feed_refreshed"
	// EventFeedError is a failed feed read; the old snapshot stays.
	EventFeedError EventKind = "feed_error"
	// EventForm is a form edit. Consecutive edits may be coalesced.
	EventForm EventKind = "form"
)

// Event is a state-change notification. Consumers re-read CurrentView after
// receiving one; the event itself only says what moved.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`

	// Lifecycle events.
	From      State          `json:"from,omitempty"`
	Lifecycle *LifecycleView `json:"lifecycle,omitempty"`
	Form      *FormState     `json:"form,omitempty"` // the submitted fields, on entering AwaitingApproval

	// Stale events.
	Handle Handle `json:"handle,omitempty"`
	Stage  Stage  `json:"stage,omitempty"`

	// Feed events.
	FeedSize int    `json:"feed_size,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Listener receives events on the controller's dispatch goroutine, in order.
type Listener func(Event)
