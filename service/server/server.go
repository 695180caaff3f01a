package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/memoboard/service/config"
	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the part of *memo.Controller the handlers drive.
type Controller interface {
	CurrentView() memo.View
	UpdateForm(u memo.FormUpdate)
	Submit() (memo.Handle, bool)
	Refresh()
}

var _ Controller = (*memo.Controller)(nil)

// Store is the read side of the database the handlers expose.
type Store interface {
	ListMemos(ctx context.Context, params db.ListMemosParams) ([]*db.Memo, error)
	CountMemos(ctx context.Context, backend string) (int64, error)
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error)
	GetSubmission(ctx context.Context, handle string) (*db.Submission, error)
}

var _ Store = (*db.Store)(nil)

// Server represents the HTTP server for the memo board.
type Server struct {
	addr         string
	cfg          *config.Config
	ctrl         Controller
	store        Store
	hub          *Hub
	ssePublisher *SSEPublisher
	renderer     *TemplateRenderer
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The hub should be the one registered as a controller listener; nil streams
// only the initial view.
// The store is optional - if nil, the memo and submission endpoints are disabled.
// The ssePublisher is optional - if nil, the NATS-backed stream endpoints are disabled.
// The metrics is optional - if nil, no metrics are recorded or served.
func New(addr string, cfg *config.Config, ctrl Controller, store Store, hub *Hub, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if hub == nil {
		hub = NewHub(m, logger)
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		ctrl:         ctrl,
		store:        store,
		hub:          hub,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// WithTemplates adds the HTML board page using embedded templates.
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Controller routes
	route("GET /api/v1/view", "/api/v1/view", handleGetView(s.ctrl))
	route("PUT /api/v1/form", "/api/v1/form", handleUpdateForm(s.ctrl, s.logger))
	route("POST /api/v1/submit", "/api/v1/submit", handleSubmit(s.ctrl, s.logger))
	route("POST /api/v1/refresh", "/api/v1/refresh", handleRefresh(s.ctrl))
	route("GET /api/v1/stream", "/api/v1/stream", handleStreamView(s.hub, s.ctrl, s.metrics, s.logger))

	// Database routes
	if s.store != nil {
		route("GET /api/v1/memos", "/api/v1/memos", handleListMemos(s.store, s.cfg.LedgerBackend, s.logger))
		route("GET /api/v1/submissions", "/api/v1/submissions", handleListSubmissions(s.store, s.logger))
		route("GET /api/v1/submissions/{handle}", "/api/v1/submissions/{handle}", handleGetSubmission(s.store, s.logger))
	} else {
		s.logger.Warn("database not configured, memo and submission endpoints disabled")
	}

	// NATS stream routes
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/{topic}", "/api/v1/stream/{topic}", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		route("GET /api/v1/stream/lifecycle/{handle}", "/api/v1/stream/lifecycle/{handle}", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("NATS streaming endpoints enabled")
	}

	// HTML page
	if s.renderer != nil {
		mux.HandleFunc("GET /{$}", handleBoardPage(s.renderer, s.ctrl, s.cfg.LedgerBackend, s.cfg.PriceLabel()))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Disconnect stream clients first so Shutdown does not wait on them.
	s.hub.Close()
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
