package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/memoboard/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing memo events to NATS.
type Publisher interface {
	// PublishLifecycle publishes a lifecycle transition to "memos.lifecycle.{handle}".
	PublishLifecycle(ctx context.Context, event *LifecycleEvent) error

	// PublishFeed publishes a feed refresh outcome to "memos.feed".
	PublishFeed(ctx context.Context, event *FeedEvent) error

	// PublishMemoBatch publishes newly indexed memos to "memos.indexed".
	PublishMemoBatch(ctx context.Context, events []*MemoEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes memo events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for memo events.
	StreamName = "MEMOS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "memos.>"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour

	SubjectFeed    = "memos.feed"
	SubjectIndexed = "memos.indexed"
)

// LifecycleSubject returns the subject for one submission's lifecycle events.
func LifecycleSubject(handle string) string {
	return fmt.Sprintf("memos.lifecycle.%s", handle)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "memoboard-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	// Ensure stream exists
	if err := EnsureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// Connect dials NATS with reconnects enabled.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func EnsureStream(js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Memo write lifecycle, feed and index events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishLifecycle publishes a single lifecycle event.
func (p *JetStreamPublisher) PublishLifecycle(ctx context.Context, event *LifecycleEvent) error {
	if err := p.publish(ctx, LifecycleSubject(event.Handle), event); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "published lifecycle event",
		"handle", event.Handle,
		"state", event.State,
	)
	return nil
}

// PublishFeed publishes a single feed event.
func (p *JetStreamPublisher) PublishFeed(ctx context.Context, event *FeedEvent) error {
	return p.publish(ctx, SubjectFeed, event)
}

// PublishMemoBatch publishes indexed memos, continuing past individual failures.
func (p *JetStreamPublisher) PublishMemoBatch(ctx context.Context, events []*MemoEvent) error {
	if len(events) == 0 {
		return nil
	}

	failed := 0
	for _, event := range events {
		if err := p.publish(ctx, SubjectIndexed, event); err != nil {
			failed++
			p.logger.ErrorContext(ctx, "failed to publish memo in batch",
				"position", event.Position,
				"tx_ref", event.TxRef,
				"error", err,
			)
			continue
		}
	}

	p.logger.DebugContext(ctx, "published memo batch",
		"count", len(events),
		"failed", failed,
	)

	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, v any) error {
	start := time.Now()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		// lifecycle subjects carry a handle; label by the stable prefix
		label := subject
		if strings.HasPrefix(subject, "memos.lifecycle.") {
			label = "memos.lifecycle"
		}
		p.metrics.RecordNATSPublish(label, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
