package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu         sync.Mutex
	schedules  map[string]time.Duration // map[scheduleID]interval
	triggered  []string
	createErr  error
	deleteErr  error
	triggerErr error
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertIndexSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertIndexSchedule(ctx context.Context, backend string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[ScheduleID(backend)] = interval
	return nil
}

// DeleteIndexSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteIndexSchedule(ctx context.Context, backend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	id := ScheduleID(backend)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// TriggerIndex records a manual run.
func (m *MockScheduler) TriggerIndex(ctx context.Context, backend string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggerErr != nil {
		return "", m.triggerErr
	}
	id := fmt.Sprintf("index-memos-%s-manual-%d", backend, len(m.triggered)+1)
	m.triggered = append(m.triggered, id)
	return id, nil
}

// SetCreateError makes UpsertIndexSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteIndexSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetTriggerError makes TriggerIndex return an error.
func (m *MockScheduler) SetTriggerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerErr = err
}

// ScheduleExists checks if a schedule exists for a backend.
func (m *MockScheduler) ScheduleExists(backend string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[ScheduleID(backend)]
	return exists
}

// GetScheduleInterval returns the interval for a backend's schedule.
func (m *MockScheduler) GetScheduleInterval(backend string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[ScheduleID(backend)]
	return interval, exists
}

// Triggered returns the workflow IDs of manual runs.
func (m *MockScheduler) Triggered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.triggered...)
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.triggered = nil
	m.createErr = nil
	m.deleteErr = nil
	m.triggerErr = nil
}
