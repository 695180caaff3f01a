package memo

import (
	"context"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// ReadFunc pulls the full ledger sequence.
type ReadFunc func(ctx context.Context) ([]Record, error)

// ResultFunc receives the outcome of a read that was not superseded.
type ResultFunc func(records []Record, err error)

// RefreshScheduler decides when the feed is re-read.
//
// Every call to RefreshNow or RefreshAfter supersedes whatever came before it:
// a pending delayed refresh is cancelled, an in-flight read is cancelled and its
// result dropped. Only the most recent request has an effect.
type RefreshScheduler struct {
	clock    clock.Clock
	read     ReadFunc
	onResult ResultFunc
	timeout  time.Duration

	mu      sync.Mutex
	gen     uint64
	timer   *clock.Timer
	cancel  context.CancelFunc
	stopped bool
}

// NewRefreshScheduler creates a scheduler. timeout bounds a single read; zero
// means no bound.
func NewRefreshScheduler(clk clock.Clock, read ReadFunc, onResult ResultFunc, timeout time.Duration) *RefreshScheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &RefreshScheduler{
		clock:    clk,
		read:     read,
		onResult: onResult,
		timeout:  timeout,
	}
}

// RefreshNow starts a read immediately.
func (s *RefreshScheduler) RefreshNow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.supersede()
	s.start(s.gen)
}

// RefreshAfter arranges one read after d.
func (s *RefreshScheduler) RefreshAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.supersede()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

// Pending reports whether a delayed refresh is waiting to fire.
func (s *RefreshScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// InFlight reports whether a read is running.
func (s *RefreshScheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop cancels everything pending and ignores later requests.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersede()
	s.stopped = true
}

// supersede must be called with s.mu held.
func (s *RefreshScheduler) supersede() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *RefreshScheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.stopped {
		return
	}
	s.timer = nil
	s.start(gen)
}

// start must be called with s.mu held.
func (s *RefreshScheduler) start(gen uint64) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.cancel = cancel

	go func() {
		defer cancel()
		records, err := s.read(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.cancel = nil
		s.onResult(records, err)
	}()
}
