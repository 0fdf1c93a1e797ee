// Package postgres opens the pooled lib/pq connection behind the crawl run
// history and applies its versioned schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/resilience"
)

type Client struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Open connects and pings, retrying while the server is still starting.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log := slog.Default().With("component", "postgres", "host", cfg.Host, "database", cfg.Database)
	err = resilience.Retry(ctx, "postgres ping", resilience.RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Retryable:    func(err error) bool { return !isAuthError(err) },
	}, func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	log.Info("postgres connected")
	return &Client{DB: db, logger: log}, nil
}

// isAuthError reports failures a retry cannot fix: bad credentials or a
// missing database.
func isAuthError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "28", "3D":
		return true
	}
	return false
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Migrate brings the schema named name up to date. statements[i] is version
// i+1; versions already recorded in schema_migrations are skipped, the rest
// run in one transaction.
func (c *Client) Migrate(ctx context.Context, name string, statements ...string) error {
	if _, err := c.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT        NOT NULL,
		version    INTEGER     NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (name, version)
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return c.InTx(ctx, func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE name = $1`, name,
		).Scan(&current); err != nil {
			return fmt.Errorf("reading %s schema version: %w", name, err)
		}
		for i := current; i < len(statements); i++ {
			if _, err := tx.ExecContext(ctx, statements[i]); err != nil {
				return fmt.Errorf("applying %s migration %d: %w", name, i+1, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name, version) VALUES ($1, $2)`, name, i+1,
			); err != nil {
				return fmt.Errorf("recording %s migration %d: %w", name, i+1, err)
			}
		}
		if applied := len(statements) - current; applied > 0 {
			c.logger.Info("schema migrated", "schema", name, "from", current, "to", len(statements))
		}
		return nil
	})
}

// InTx runs fn in a transaction, committing when it returns nil.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
