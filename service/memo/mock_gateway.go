package memo

import (
	"context"
	"sync"
)

// MockGateway is a scriptable Gateway for testing. Tests push stage events
// for a handle with Emit and end the stream with Finish.
type MockGateway struct {
	mu        sync.Mutex
	requests  []WriteRequest
	streams   map[Handle]chan StageEvent
	submitErr error

	records   []Record
	readErr   error
	readCalls int
	readGate  chan struct{}
}

// NewMockGateway creates a new mock gateway with an empty ledger.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		streams: make(map[Handle]chan StageEvent),
	}
}

// SubmitWrite records the request and opens a stream for its handle.
func (m *MockGateway) SubmitWrite(ctx context.Context, req WriteRequest) (<-chan StageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}

	ch := make(chan StageEvent, 8)
	m.streams[req.Handle] = ch
	return ch, nil
}

// ReadAll returns the configured records. When a gate is set it blocks until
// the gate is released or ctx is done.
func (m *MockGateway) ReadAll(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	m.readCalls++
	gate := m.readGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

// Emit delivers ev on the stream for h. It reports false if no such stream is open.
func (m *MockGateway) Emit(h Handle, ev StageEvent) bool {
	m.mu.Lock()
	ch, ok := m.streams[h]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ev
	return true
}

// Finish closes the stream for h.
func (m *MockGateway) Finish(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.streams[h]; ok {
		close(ch)
		delete(m.streams, h)
	}
}

// SetSubmitError makes SubmitWrite fail synchronously.
func (m *MockGateway) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetRecords replaces the ledger contents returned by ReadAll.
func (m *MockGateway) SetRecords(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]Record(nil), records...)
}

// AppendRecord adds one record to the end of the ledger.
func (m *MockGateway) AppendRecord(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// SetReadError makes ReadAll fail.
func (m *MockGateway) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// HoldReads makes subsequent ReadAll calls block until the returned function is called.
func (m *MockGateway) HoldReads() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.readGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.readGate == gate {
				m.readGate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// ReadCalls returns how many times ReadAll was called.
func (m *MockGateway) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// Requests returns a copy of every submitted request.
func (m *MockGateway) Requests() []WriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
