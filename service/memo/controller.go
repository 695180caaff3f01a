package memo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
)

const (
	// DefaultRefreshDelay covers the window in which a confirmed write may not
	// yet be visible to reads.
	DefaultRefreshDelay = 5 * time.Second

	DefaultReadTimeout = 30 * time.Second

	// DefaultStaleAfter is how old a feed snapshot may get before the view
	// marks it stale.
	DefaultStaleAfter = 5 * time.Minute

	// defaultEventBuffer bounds the dispatch backlog for everything except
	// lifecycle events, which are never dropped.
	defaultEventBuffer = 256
)

// Options configures a Controller.
type Options struct {
	// Value is the fixed payment attached to every write. Required.
	Value *big.Int

	RefreshDelay time.Duration
	ReadTimeout  time.Duration
	StaleAfter   time.Duration
	EventBuffer  int

	Clock     clock.Clock
	Logger    *slog.Logger
	Listeners []Listener
}

// View is the single read model handed to the presentation layer.
// It is a snapshot; callers must not mutate it.
type View struct {
	Form            FormState     `json:"form"`
	Lifecycle       LifecycleView `json:"lifecycle"`
	Submittable     bool          `json:"submittable"`
	Feed            []Record      `json:"feed"`
	FeedRefreshedAt time.Time     `json:"feed_refreshed_at,omitzero"`
	FeedError       string        `json:"feed_error,omitempty"`
	RefreshPending  bool          `json:"refresh_pending"`
	Refreshing      bool          `json:"refreshing"`

	// FeedStale is set when the snapshot was never loaded or is older than
	// the controller's StaleAfter.
	FeedStale bool `json:"feed_stale"`
}

// Controller orchestrates one user's form, the write lifecycle, and the feed.
//
// All handlers (user operations, gateway deliveries) run under c.mu, one at a
// time. Feed reads run on the refresh scheduler's goroutine and publish through
// FeedCache's atomic swap.
type Controller struct {
	gateway      Gateway
	value        *big.Int
	refreshDelay time.Duration
	staleAfter   time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	feed      *FeedCache
	refresher *RefreshScheduler

	mu        sync.Mutex
	form      Form
	lifecycle *Lifecycle // nil is Idle
	closed    bool

	ctx    context.Context // lifetime of submissions
	cancel context.CancelFunc

	lmu       sync.RWMutex
	listeners []Listener
	events    *eventQueue
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewController builds a controller around gw. Call Start to load the feed.
func NewController(gw Gateway, opts Options) (*Controller, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Value == nil || opts.Value.Sign() <= 0 {
		return nil, fmt.Errorf("payment value must be positive")
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		gateway:      gw,
		value:        new(big.Int).Set(opts.Value),
		refreshDelay: opts.RefreshDelay,
		staleAfter:   opts.StaleAfter,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "memo_controller"),
		feed:         NewFeedCache(),
		ctx:          ctx,
		cancel:       cancel,
		listeners:    append([]Listener(nil), opts.Listeners...),
		events:       newEventQueue(opts.EventBuffer),
		done:         make(chan struct{}),
	}
	c.refresher = NewRefreshScheduler(opts.Clock, gw.ReadAll, c.applyRead, opts.ReadTimeout)

	c.wg.Add(1)
	go c.dispatch()

	return c, nil
}

// AddListener registers l for subsequent events.
func (c *Controller) AddListener(l Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start performs the initial feed load.
func (c *Controller) Start() {
	c.logger.Info("controller started", "refresh_delay", c.refreshDelay, "value", c.value.String())
	c.refresher.RefreshNow()
}

// UpdateForm sets the given fields. It never fails.
func (c *Controller) UpdateForm(u FormUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.form.Apply(u)
	snap := c.form.Snapshot()
	c.emit(Event{Kind: EventForm, At: c.clock.Now(), Form: &snap})
}

// Submit starts a new write from the current form. It returns false, and does
// nothing, when the form is incomplete or a previous write is still in flight.
func (c *Controller) Submit() (Handle, bool) {
	c.mu.Lock()
	if c.closed || !c.form.Submittable(c.inFlightLocked()) {
		c.mu.Unlock()
		return "", false
	}

	now := c.clock.Now()
	h := Handle(uuid.NewString())
	lc := newLifecycle(h, now)
	if err := lc.transition(AwaitingApproval, now); err != nil {
		c.mu.Unlock()
		c.logger.Error("failed to start lifecycle", "handle", h, "error", err)
		return "", false
	}
	c.lifecycle = lc

	form := c.form.Snapshot()
	req := WriteRequest{
		Handle:      h,
		DisplayName: strings.TrimSpace(form.DisplayName),
		Text:        strings.TrimSpace(form.Text),
		Value:       new(big.Int).Set(c.value),
	}
	c.emitLifecycle(Idle, lc, now, &FormState{DisplayName: req.DisplayName, Text: req.Text})
	c.mu.Unlock()

	c.logger.Info("submitting memo", "handle", h, "display_name", req.DisplayName)

	stages, err := c.gateway.SubmitWrite(c.ctx, req)
	if err != nil {
		c.deliver(h, StageEvent{Stage: StageFailed, Err: err})
		return h, true
	}

	go c.watch(h, stages)
	return h, true
}

// Refresh re-reads the feed now.
func (c *Controller) Refresh() {
	c.refresher.RefreshNow()
}

// CurrentView returns a consistent snapshot of form, lifecycle and feed.
func (c *Controller) CurrentView() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	lv := LifecycleView{State: Idle}
	if c.lifecycle != nil {
		lv = c.lifecycle.Snapshot()
	}

	return View{
		Form:            c.form.Snapshot(),
		Lifecycle:       lv,
		Submittable:     !c.closed && c.form.Submittable(c.inFlightLocked()),
		Feed:            c.feed.View(),
		FeedRefreshedAt: c.feed.LastRefreshedAt(),
		FeedError:       c.feed.LastError(),
		RefreshPending:  c.refresher.Pending(),
		Refreshing:      c.refresher.InFlight(),
		FeedStale:       c.feed.Stale(c.clock.Now(), c.staleAfter),
	}
}

// Close tears the controller down: the lifecycle is discarded, pending
// refreshes are cancelled, and no further events are dispatched.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.lifecycle = nil
		c.mu.Unlock()

		c.cancel()
		c.refresher.Stop()
		close(c.done)
		c.wg.Wait()
		c.logger.Info("controller closed")
	})
}

func (c *Controller) inFlightLocked() bool {
	return c.lifecycle != nil && !c.lifecycle.state.Terminal()
}

// watch forwards one submission's stage events, tagged with its handle.
func (c *Controller) watch(h Handle, stages <-chan StageEvent) {
	for {
		select {
		case ev, ok := <-stages:
			if !ok {
				c.streamClosed(h)
				return
			}
			c.deliver(h, ev)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) deliver(h Handle, ev StageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliverLocked(h, ev)
}

func (c *Controller) streamClosed(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc := c.lifecycle
	if lc == nil || lc.handle != h || lc.state.Terminal() {
		return
	}
	err := ErrGatewayClosed
	if lc.state == Broadcast {
		err = fmt.Errorf("%w: %w", ErrTimeout, ErrGatewayClosed)
	}
	c.deliverLocked(h, StageEvent{Stage: StageFailed, Err: err})
}

func (c *Controller) deliverLocked(h Handle, ev StageEvent) {
	if c.closed {
		return
	}

	now := c.clock.Now()
	lc := c.lifecycle
	if lc == nil || lc.handle != h {
		c.logger.Debug("discarding stale stage event", "handle", h, "stage", ev.Stage.String())
		c.emit(Event{Kind: EventStaleDiscarded, At: now, Handle: h, Stage: ev.Stage})
		return
	}

	from := lc.state
	var err error
	switch ev.Stage {
	case StageBroadcast:
		err = lc.transition(Broadcast, now)
	case StageConfirmed:
		err = lc.transition(Confirmed, now)
	case StageFailed:
		failure := ev.Err
		if failure == nil {
			failure = fmt.Errorf("write failed without a reason")
		}
		err = lc.fail(failure, now)
	default:
		err = fmt.Errorf("unknown stage %d", ev.Stage)
	}
	if err != nil {
		c.logger.Warn("ignoring out-of-order stage event",
			"handle", h,
			"state", from.String(),
			"stage", ev.Stage.String(),
			"error", err,
		)
		return
	}
	if ev.TxRef != "" {
		lc.txRef = ev.TxRef
	}

	switch lc.state {
	case Confirmed:
		c.form.Reset()
		c.refresher.RefreshAfter(c.refreshDelay)
		c.logger.Info("memo confirmed", "handle", h, "tx_ref", lc.txRef)
	case Failed:
		c.logger.Warn("memo failed",
			"handle", h,
			"reason", lc.reason.String(),
			"message", lc.message,
			"error", ev.Err,
		)
	default:
		c.logger.Debug("lifecycle advanced", "handle", h, "from", from.String(), "to", lc.state.String())
	}

	c.emitLifecycle(from, lc, now, nil)
}

// applyRead runs on the refresh goroutine for reads that were not superseded.
func (c *Controller) applyRead(records []Record, err error) {
	now := c.clock.Now()
	if err != nil {
		c.feed.RecordError(err, now)
		c.logger.Warn("feed refresh failed, keeping last snapshot", "error", err, "feed_size", c.feed.Len())
		c.emit(Event{Kind: EventFeedError, At: now, Error: c.feed.LastError(), FeedSize: c.feed.Len()})
		return
	}
	c.feed.Replace(records, now)
	c.logger.Debug("feed refreshed", "feed_size", len(records))
	c.emit(Event{Kind: EventFeedRefreshed, At: now, FeedSize: len(records)})
}

func (c *Controller) emitLifecycle(from State, lc *Lifecycle, now time.Time, form *FormState) {
	snap := lc.Snapshot()
	c.emit(Event{Kind: EventLifecycle, At: now, From: from, Lifecycle: &snap, Form: form})
}

// emit never blocks. Slow listeners delay delivery but never lose a
// lifecycle event; see eventQueue for what may be coalesced or dropped.
func (c *Controller) emit(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	if !c.events.push(ev) {
		c.logger.Warn("event backlog full, dropping event", "kind", string(ev.Kind))
	}
}

func (c *Controller) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.events.ready:
		case <-c.done:
			return
		}

		for _, ev := range c.events.take() {
			select {
			case <-c.done:
				return
			default:
			}

			c.lmu.RLock()
			listeners := c.listeners
			c.lmu.RUnlock()
			for _, l := range listeners {
				l(ev)
			}
		}
	}
}
