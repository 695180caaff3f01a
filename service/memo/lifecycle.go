package memo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of one submitted write.
type State int

const (
	// Idle means nothing has been submitted yet.
	Idle State = iota
	// AwaitingApproval means the write is waiting on the wallet.
	AwaitingApproval
	// Broadcast means the write was sent and is waiting for confirmation.
	Broadcast
	// Confirmed means the ledger accepted the write.
	Confirmed
	// Failed means the write ended without being confirmed.
	Failed
)

// String returns the snake_case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingApproval:
		return "awaiting_approval"
	case Broadcast:
		return "broadcast"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// MarshalText renders the state as its snake_case name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state ends a lifecycle.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed
}

// No stage may be skipped, and terminal states have no outgoing edges.
var stateTransitions = map[State][]State{
	Idle:             {AwaitingApproval},
	AwaitingApproval: {Broadcast, Failed},
	Broadcast:        {Confirmed, Failed},
}

// CanTransitionTo checks if a transition from s to t is valid.
func (s State) CanTransitionTo(t State) bool {
	allowedTransitions, exists := stateTransitions[s]
	if !exists {
		return false
	}

	for _, allowed := range allowedTransitions {
		if t == allowed {
			return true
		}
	}

	return false
}

// FailureReason tags a Failed lifecycle.
type FailureReason int

const (
	// NoFailure is the reason of every lifecycle that has not failed.
	NoFailure FailureReason = iota
	// UserRejected covers every failure before broadcast.
	UserRejected
	// ExecutionReverted means the ledger rejected the broadcast write.
	ExecutionReverted
	// Timeout means no confirmation arrived after broadcast.
	Timeout
)

// String returns the snake_case reason, empty for NoFailure.
func (r FailureReason) String() string {
	switch r {
	case NoFailure:
		return ""
	case UserRejected:
		return "user_rejected"
	case ExecutionReverted:
		return "execution_reverted"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailureReason(%d)", r)
	}
}

// MarshalText renders the reason as its snake_case name.
func (r FailureReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Lifecycle tracks one submission from approval to a terminal state.
type Lifecycle struct {
	handle    Handle
	state     State
	reason    FailureReason
	message   string
	txRef     string
	startedAt time.Time
	updatedAt time.Time
}

func newLifecycle(h Handle, now time.Time) *Lifecycle {
	return &Lifecycle{handle: h, state: Idle, startedAt: now, updatedAt: now}
}

// Handle returns the handle of the submission this lifecycle tracks.
func (l *Lifecycle) Handle() Handle { return l.handle }

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

func (l *Lifecycle) transition(to State, now time.Time) error {
	if !l.state.CanTransitionTo(to) {
		return fmt.Errorf("invalid state transition: %s -> %s (handle: %s)", l.state, to, l.handle)
	}
	l.state = to
	l.updatedAt = now
	return nil
}

// fail moves the lifecycle to Failed, classifying err by the stage it arrived in.
func (l *Lifecycle) fail(err error, now time.Time) error {
	reason := classifyFailure(l.state, err)
	if err := l.transition(Failed, now); err != nil {
		return err
	}
	l.reason = reason
	l.message = firstClause(err)
	return nil
}

// Snapshot returns the read-only view of the lifecycle.
func (l *Lifecycle) Snapshot() LifecycleView {
	return LifecycleView{
		Handle:    l.handle,
		State:     l.state,
		Reason:    l.reason,
		Message:   l.message,
		TxRef:     l.txRef,
		StartedAt: l.startedAt,
		UpdatedAt: l.updatedAt,
	}
}

// LifecycleView is the presentation form of a lifecycle.
type LifecycleView struct {
	Handle    Handle        `json:"handle,omitempty"`
	State     State         `json:"state"`
	Reason    FailureReason `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	TxRef     string        `json:"tx_ref,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

func classifyFailure(from State, err error) FailureReason {
	if from != Broadcast {
		return UserRejected
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return ExecutionReverted
}

// firstClause keeps the text before the first period; node errors tend to
// carry long diagnostic payloads after it.
func firstClause(err error) string {
	if err == nil {
		return ""
	}
	msg, _, _ := strings.Cut(err.Error(), ".")
	return strings.TrimSpace(msg)
}
