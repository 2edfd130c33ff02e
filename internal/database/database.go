package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var Pool *pgxpool.Pool

// Connect opens the shared pool and verifies the server answers
func Connect(ctx context.Context, databaseURL string, maxConns int32, log *zap.Logger) error {
	if databaseURL == "" {
		return fmt.Errorf("database url is not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	Pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connected", zap.String("host", cfg.ConnConfig.Host), zap.Int32("max_conns", cfg.MaxConns))
	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
