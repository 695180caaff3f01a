package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	natspkg "github.com/brojonat/memoboard/service/nats"
)

// Side-effect listeners run on the controller's dispatch goroutine, so each
// bounds its I/O and never returns an error to the controller.
const listenerTimeout = 5 * time.Second

// MetricsListener records controller events as Prometheus metrics.
func MetricsListener(m *metrics.Metrics) memo.Listener {
	return func(ev memo.Event) {
		switch ev.Kind {
		case memo.EventLifecycle:
			if ev.Lifecycle == nil {
				return
			}
			m.RecordLifecycleTransition(ev.From.String(), ev.Lifecycle.State.String())
			switch ev.Lifecycle.State {
			case memo.Confirmed:
				m.RecordSubmissionOutcome("confirmed")
			case memo.Failed:
				m.RecordSubmissionOutcome(ev.Lifecycle.Reason.String())
			}
		case memo.EventStaleDiscarded:
			m.RecordStaleCallback()
		case memo.EventFeedRefreshed:
			m.RecordFeedRefresh(ev.FeedSize, nil)
		case memo.EventFeedError:
			m.RecordFeedRefresh(ev.FeedSize, errors.New(ev.Error))
		}
	}
}

// NATSListener publishes lifecycle and feed events to JetStream.
func NATSListener(pub natspkg.Publisher, logger *slog.Logger) memo.Listener {
	return func(ev memo.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
		defer cancel()

		var err error
		if le := natspkg.FromLifecycle(ev); le != nil {
			err = pub.PublishLifecycle(ctx, le)
		} else if fe := natspkg.FromFeed(ev); fe != nil {
			err = pub.PublishFeed(ctx, fe)
		}
		if err != nil {
			logger.Warn("failed to publish controller event", "kind", string(ev.Kind), "error", err)
		}
	}
}

// AuditListener writes every lifecycle transition to the submissions table.
func AuditListener(store db.SubmissionStore, backend string, value *big.Int, logger *slog.Logger) memo.Listener {
	value = new(big.Int).Set(value)
	return func(ev memo.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
		defer cancel()

		if err := db.RecordLifecycle(ctx, store, backend, value, ev); err != nil {
			logger.Warn("failed to audit lifecycle event", "error", err)
		}
	}
}

// LogListener logs lifecycle transitions at info and everything else at debug.
func LogListener(logger *slog.Logger) memo.Listener {
	return func(ev memo.Event) {
		if ev.Kind == memo.EventLifecycle && ev.Lifecycle != nil {
			logger.Info("lifecycle transition",
				"handle", ev.Lifecycle.Handle,
				"from", ev.From.String(),
				"to", ev.Lifecycle.State.String(),
				"reason", ev.Lifecycle.Reason.String(),
				"tx_ref", ev.Lifecycle.TxRef,
			)
			return
		}
		logger.Debug("controller event", "kind", string(ev.Kind), "feed_size", ev.FeedSize, "error", ev.Error)
	}
}
