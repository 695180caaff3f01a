package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	"github.com/google/uuid"
)

const (
	clientBuffer      = 16
	keepaliveInterval = 10 * time.Second
)

// Hub fans controller events out to connected SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan memo.Event
	closed  bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]chan memo.Event),
		metrics: m,
		logger:  logger,
	}
}

// Listener returns the controller listener that feeds the hub.
func (h *Hub) Listener() memo.Listener {
	return h.Broadcast
}

// Broadcast delivers ev to every client. A client whose buffer is full misses
// the event; it still converges because every message carries the full view.
func (h *Hub) Broadcast(ev memo.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("SSE client buffer full, dropping event", "client_id", id, "kind", string(ev.Kind))
		}
	}
}

func (h *Hub) subscribe() (string, <-chan memo.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan memo.Event, clientBuffer)
	h.clients[id] = ch
	if h.metrics != nil {
		h.metrics.RecordSSEConnectionChange(1)
	}
	return id, ch, true
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
		if h.metrics != nil {
			h.metrics.RecordSSEConnectionChange(-1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
		if h.metrics != nil {
			h.metrics.RecordSSEConnectionChange(-1)
		}
	}
}

// viewMessage is the payload of every "view" SSE event.
type viewMessage struct {
	Kind  memo.EventKind `json:"kind"`
	Event *memo.Event    `json:"event,omitempty"`
	View  memo.View      `json:"view"`
}

// handleStreamView streams the view over SSE: once on connect, then after
// every controller event.
// GET /api/v1/stream
func handleStreamView(hub *Hub, ctrl Controller, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		id, events, ok := hub.subscribe()
		if !ok {
			writeError(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer hub.unsubscribe(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		logger.DebugContext(r.Context(), "SSE client connected",
			"client_id", id,
			"remote_addr", r.RemoteAddr,
		)

		send := func(name string, v any) bool {
			data, err := json.Marshal(v)
			if err != nil {
				logger.WarnContext(r.Context(), "failed to marshal SSE event", "error", err)
				return true
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
				return false
			}
			flusher.Flush()
			if m != nil {
				m.RecordSSEEventSent(name)
			}
			return true
		}

		if !send("connected", map[string]string{"client_id": id}) {
			return
		}
		if !send("view", viewMessage{Kind: "initial", View: ctrl.CurrentView()}) {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case ev, ok := <-events:
				if !ok {
					return
				}
				if !send("view", viewMessage{Kind: ev.Kind, Event: &ev, View: ctrl.CurrentView()}) {
					return
				}

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"client_id", id,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
