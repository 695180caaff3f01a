package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	lifecycleEvents []*LifecycleEvent
	feedEvents      []*FeedEvent
	memoEvents      []*MemoEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishLifecycle records the event and returns any configured error.
func (m *MockPublisher) PublishLifecycle(ctx context.Context, event *LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.lifecycleEvents = append(m.lifecycleEvents, event)
	return nil
}

// PublishFeed records the event and returns any configured error.
func (m *MockPublisher) PublishFeed(ctx context.Context, event *FeedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.feedEvents = append(m.feedEvents, event)
	return nil
}

// PublishMemoBatch records the events and returns any configured error.
func (m *MockPublisher) PublishMemoBatch(ctx context.Context, events []*MemoEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.memoEvents = append(m.memoEvents, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetLifecycleEvents returns all published lifecycle events (for testing).
func (m *MockPublisher) GetLifecycleEvents() []*LifecycleEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*LifecycleEvent, len(m.lifecycleEvents))
	copy(events, m.lifecycleEvents)
	return events
}

// GetLifecycleEventsForHandle returns lifecycle events published for one handle.
func (m *MockPublisher) GetLifecycleEventsForHandle(handle string) []*LifecycleEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*LifecycleEvent, 0)
	for _, event := range m.lifecycleEvents {
		if event.Handle == handle {
			events = append(events, event)
		}
	}
	return events
}

// GetFeedEvents returns all published feed events.
func (m *MockPublisher) GetFeedEvents() []*FeedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*FeedEvent, len(m.feedEvents))
	copy(events, m.feedEvents)
	return events
}

// GetMemoEvents returns all published memo events.
func (m *MockPublisher) GetMemoEvents() []*MemoEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*MemoEvent, len(m.memoEvents))
	copy(events, m.memoEvents)
	return events
}

// SetPublishError configures the mock to return an error on every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycleEvents = nil
	m.feedEvents = nil
	m.memoEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
