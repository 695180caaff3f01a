package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/brojonat/memoboard/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate applies the embedded schema to DATABASE_URL. The schema is written
// with IF NOT EXISTS, so running it against a current database is a no-op.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting schema migration")

	// Only the database is needed; don't require ledger configuration here.
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(dbPool)
	for _, backend := range []string{"evm", "solana"} {
		n, err := store.CountMemos(ctx, backend)
		if err != nil {
			logger.Error("failed to count memos", "backend", backend, "error", err)
			os.Exit(1)
		}
		logger.Info("memo index", "backend", backend, "memos", n)
	}

	logger.Info("migration complete")
}
