package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/memoboard/service/metrics"
	natspkg "github.com/brojonat/memoboard/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SSEPublisher streams JetStream memo events to SSE clients. Unlike the Hub it
// sees events from every process: the indexer worker and other servers.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for streaming.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "memoboard-sse-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// streamSubjects maps the {topic} path value to a subject filter and the SSE
// event name messages are sent under.
var streamSubjects = map[string]struct {
	subject string
	event   string
}{
	"indexed":   {natspkg.SubjectIndexed, "memo"},
	"feed":      {natspkg.SubjectFeed, "feed"},
	"lifecycle": {"memos.lifecycle.*", "lifecycle"},
}

// handleStreamEvents streams JetStream events of one topic over SSE. A
// handle path value narrows the lifecycle topic to a single submission.
// GET /api/v1/stream/{topic}
// GET /api/v1/stream/lifecycle/{handle}
func handleStreamEvents(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Resolve the topic; the per-handle route has no {topic} segment
		topic := r.PathValue("topic")
		handle := r.PathValue("handle")
		if handle != "" {
			topic = "lifecycle"
		}
		sub, ok := streamSubjects[topic]
		if !ok {
			writeError(w, fmt.Sprintf("unknown stream topic %q", topic), http.StatusNotFound)
			return
		}
		subject := sub.subject
		if handle != "" {
			if err := validateHandle(handle); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.LifecycleSubject(handle)
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Flush headers immediately
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)
		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		// Ephemeral consumer, deleted by the server when the connection goes away.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		// Create buffered channel for messages
		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		// Start consuming messages
		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			// Wait for the client to go away, then stop consuming
			<-r.Context().Done()
			cc.Stop()
		}()

		// Send initial connection event
		fmt.Fprintf(w, "event: connected\ndata: {\"subject\":%q}\n\n", subject)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		// Create ticker for keepalive comments
		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		// Stream events to client
		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				// Payloads are already JSON; reject anything that is not.
				if !json.Valid(msg.Data()) {
					logger.WarnContext(r.Context(), "dropping non-JSON message",
						"subject", msg.Subject(),
					)
					msg.Ack()
					continue
				}

				// Send memo event
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sub.event, msg.Data())
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}
				msg.Ack()
				if m != nil {
					m.RecordSSEEventSent(sub.event)
				}

				logger.DebugContext(r.Context(), "sent stream event",
					"subject", msg.Subject(),
					"event", sub.event,
				)

			case <-r.Context().Done():
				// Client disconnected
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				// Consumer closed
				return
			}
		}
	})
}
