package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/postgres"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS crawl_runs (
		run_id        UUID PRIMARY KEY,
		status        TEXT        NOT NULL,
		seeds         TEXT[]      NOT NULL DEFAULT '{}',
		started_at    TIMESTAMPTZ NOT NULL,
		duration_ms   BIGINT      NOT NULL DEFAULT 0,
		pages_fetched INTEGER     NOT NULL DEFAULT 0,
		pages_failed  INTEGER     NOT NULL DEFAULT 0,
		pages_indexed INTEGER     NOT NULL DEFAULT 0,
		skipped       INTEGER     NOT NULL DEFAULT 0,
		generation    BIGINT      NOT NULL DEFAULT 0,
		terms         INTEGER     NOT NULL DEFAULT 0,
		failures      JSONB       NOT NULL DEFAULT '[]',
		error         TEXT        NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs (started_at DESC)`,
	`ALTER TABLE crawl_runs ADD COLUMN IF NOT EXISTS stages JSONB NOT NULL DEFAULT '[]'`,
}

const selectRuns = `SELECT run_id, status, seeds, started_at, duration_ms, pages_fetched,
	pages_failed, pages_indexed, skipped, generation, terms, failures, stages, error
	FROM crawl_runs ORDER BY started_at DESC LIMIT $1`

// PostgresStore keeps run history in the crawl_runs table.
type PostgresStore struct {
	db *postgres.Client
}

// NewPostgresStore applies the crawl_runs schema and returns a store over it.
func NewPostgresStore(ctx context.Context, db *postgres.Client) (*PostgresStore, error) {
	if err := db.Migrate(ctx, "crawl_runs", migrations...); err != nil {
		return nil, fmt.Errorf("migrating crawl_runs: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Record(ctx context.Context, run *pipeline.RunSummary) error {
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("encoding failures: %w", err)
	}
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encoding stages: %w", err)
	}
	seeds := run.Seeds
	if seeds == nil {
		seeds = []string{}
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO crawl_runs (run_id, status, seeds, started_at, duration_ms, pages_fetched,
			pages_failed, pages_indexed, skipped, generation, terms, failures, stages, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			pages_fetched = EXCLUDED.pages_fetched,
			pages_failed = EXCLUDED.pages_failed,
			pages_indexed = EXCLUDED.pages_indexed,
			skipped = EXCLUDED.skipped,
			generation = EXCLUDED.generation,
			terms = EXCLUDED.terms,
			failures = EXCLUDED.failures,
			stages = EXCLUDED.stages,
			error = EXCLUDED.error`,
			run.RunID, run.Status, pq.Array(seeds), run.StartedAt, run.Duration.Milliseconds(),
			run.PagesFetched, run.PagesFailed, run.PagesIndexed, run.Skipped,
			int64(run.Generation), run.Terms, failures, stages, run.Error,
		)
		if err != nil {
			return fmt.Errorf("inserting crawl run %s: %w", run.RunID, err)
		}
		return nil
	})
}

func (s *PostgresStore) LastRun(ctx context.Context) (*pipeline.RunSummary, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]pipeline.RunSummary, error) {
	if limit <= 0 {
		limit = historyLimit
	}
	rows, err := s.db.DB.QueryContext(ctx, selectRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("querying crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []pipeline.RunSummary
	for rows.Next() {
		var (
			run        pipeline.RunSummary
			durationMs int64
			generation int64
			failures   []byte
			stages     []byte
		)
		if err := rows.Scan(&run.RunID, &run.Status, pq.Array(&run.Seeds), &run.StartedAt, &durationMs,
			&run.PagesFetched, &run.PagesFailed, &run.PagesIndexed, &run.Skipped,
			&generation, &run.Terms, &failures, &stages, &run.Error); err != nil {
			return nil, fmt.Errorf("scanning crawl run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Generation = uint64(generation)
		run.StartedAt = run.StartedAt.UTC()
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, fmt.Errorf("decoding failures of run %s: %w", run.RunID, err)
		}
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return nil, fmt.Errorf("decoding stages of run %s: %w", run.RunID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating crawl runs: %w", err)
	}
	return runs, nil
}
