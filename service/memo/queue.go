package memo

import "sync"

// eventQueue is the backlog between the controller and its dispatch goroutine.
//
// Lifecycle events are always queued. A run of form edits at the tail
// collapses into the latest one. Any other kind is dropped once the backlog
// holds limit events.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
	limit int

	// ready holds a token while items is non-empty.
	ready chan struct{}
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push queues ev and reports whether it was accepted.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	switch {
	case ev.Kind == EventForm && n > 0 && q.items[n-1].Kind == EventForm:
		q.items[n-1] = ev
	case ev.Kind != EventLifecycle && n >= q.limit:
		return false
	default:
		q.items = append(q.items, ev)
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// take removes and returns everything queued, oldest first.
func (q *eventQueue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
