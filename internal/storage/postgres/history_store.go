// Package postgres persists job history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/store"
)

// Schema creates the job_runs table when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS job_runs (
	id            TEXT PRIMARY KEY,
	requester_id  TEXT NOT NULL,
	source        TEXT NOT NULL,
	total         INTEGER NOT NULL,
	delivered     INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS job_runs_requester_idx ON job_runs (requester_id, submitted_at DESC);
`

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// HistoryStore implements store.HistoryRepository.
type HistoryStore struct {
	pool pool
}

var _ store.HistoryRepository = (*HistoryStore)(nil)

// NewHistoryStore connects to Postgres.
func NewHistoryStore(ctx context.Context, cfg Config) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: p}, nil
}

// NewHistoryStoreWithPool wraps an existing pool (primarily for testing).
func NewHistoryStoreWithPool(p pool) (*HistoryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &HistoryStore{pool: p}, nil
}

// Close releases the pool.
func (s *HistoryStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *HistoryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema applies Schema.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure job_runs schema: %w", err)
	}
	return nil
}

// RecordQueued inserts a queued run.
func (s *HistoryStore) RecordQueued(ctx context.Context, run store.JobRun) error {
	const query = `
		INSERT INTO job_runs (id, requester_id, source, total, delivered, status, submitted_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.RequesterID, run.Source, run.Total, string(manga.JobStatusQueued), run.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// MarkStarted stamps started_at.
func (s *HistoryStore) MarkStarted(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE job_runs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4;
	`
	_, err := s.pool.Exec(ctx, query,
		string(manga.JobStatusRunning), at, id, string(manga.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	return nil
}

// UpdateProgress raises the delivered count.
func (s *HistoryStore) UpdateProgress(ctx context.Context, id string, delivered int) error {
	const query = `
		UPDATE job_runs SET delivered = GREATEST(delivered, $1)
		WHERE id = $2;
	`
	if _, err := s.pool.Exec(ctx, query, delivered, id); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Complete records the terminal status.
func (s *HistoryStore) Complete(
	ctx context.Context,
	id string,
	at time.Time,
	status manga.JobStatus,
	delivered int,
	errMsg *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	const query = `
		UPDATE job_runs
		SET status = $1, finished_at = $2, delivered = GREATEST(delivered, $3), error_message = $4
		WHERE id = $5;
	`
	tag, err := s.pool.Exec(ctx, query, string(status), at, delivered, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const selectRun = `
	SELECT id, requester_id, source, total, delivered, status, submitted_at, started_at, finished_at, error_message
	FROM job_runs
`

// GetRun loads one run.
func (s *HistoryStore) GetRun(ctx context.Context, id string) (store.JobRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRun+" WHERE id = $1;", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("get job run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first. An empty requesterID lists everyone's.
func (s *HistoryStore) ListRuns(ctx context.Context, requesterID string, limit, offset int) ([]store.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := selectRun + `
		WHERE ($1 = '' OR requester_id = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, requesterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []store.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.JobRun, error) {
	var (
		run    store.JobRun
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.RequesterID,
		&run.Source,
		&run.Total,
		&run.Delivered,
		&status,
		&run.SubmittedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.JobRun{}, err //nolint:wrapcheck // callers wrap
	}
	run.Status = manga.JobStatus(status)
	return run, nil
}
