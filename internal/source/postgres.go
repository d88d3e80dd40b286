package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ValidateURL checks that a postgres connection string parses.
func ValidateURL(databaseURL string) error {
	if _, err := pgx.ParseConfig(databaseURL); err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	return nil
}

// Ping opens a single connection to databaseURL and pings it. It is the
// Pinger used when the CLI is asked to verify a URL before registering it.
func Ping(ctx context.Context, databaseURL string) error {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 1

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.ConnConfig.Host, err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", cfg.ConnConfig.Host, err)
	}
	return nil
}
