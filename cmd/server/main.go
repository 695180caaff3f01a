package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/memoboard/service/config"
	"github.com/brojonat/memoboard/service/db"
	"github.com/brojonat/memoboard/service/ledger"
	"github.com/brojonat/memoboard/service/memo"
	"github.com/brojonat/memoboard/service/metrics"
	natspkg "github.com/brojonat/memoboard/service/nats"
	"github.com/brojonat/memoboard/service/server"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"ledger_backend", cfg.LedgerBackend,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Connect to the ledger
	gateway, closeLedger, err := ledger.Open(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to open ledger", "backend", cfg.LedgerBackend, "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	hub := server.NewHub(metricsCollector, logger)
	listeners := []memo.Listener{
		server.LogListener(logger),
		server.MetricsListener(metricsCollector),
		hub.Listener(),
	}

	// Optional database: submission audit and memo index endpoints
	var store server.Store
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		dbStore := db.NewStore(dbPool).WithMetrics(metricsCollector)
		listeners = append(listeners, server.AuditListener(dbStore, cfg.LedgerBackend, cfg.MemoValue(), logger))
		store = dbStore
	} else {
		logger.Warn("DATABASE_URL not set, submissions will not be audited")
	}

	// Optional NATS: event fan-out and cross-process streams
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		listeners = append(listeners, server.NATSListener(natsPublisher, logger))
		logger.Info("connected to NATS", "url", cfg.NATSURL)

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
	}

	ctrl, err := memo.NewController(gateway, memo.Options{
		Value:        cfg.MemoValue(),
		RefreshDelay: cfg.RefreshDelay,
		ReadTimeout:  cfg.ReadTimeout,
		StaleAfter:   cfg.StaleAfter,
		Logger:       logger,
		Listeners:    listeners,
	})
	if err != nil {
		logger.Error("failed to create controller", "error", err)
		os.Exit(1)
	}
	defer ctrl.Close()
	ctrl.Start()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, ctrl, store, hub, ssePublisher, metricsCollector, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	logger.Info("server initialized, all dependencies ready",
		"price", cfg.PriceLabel(),
		"database", cfg.DatabaseURL != "",
		"nats", cfg.NATSURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// SSE clients hold their connections open; disconnect them first.
		hub.Close()

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
