// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/list-harvester/internal/store"
)

// Schema creates the ledger tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	reason      TEXT,
	range_start INTEGER NOT NULL,
	range_end   INTEGER NOT NULL,
	last_page   INTEGER NOT NULL DEFAULT 0,
	records     BIGINT NOT NULL DEFAULT 0,
	failures    BIGINT NOT NULL DEFAULT 0,
	restarts    BIGINT NOT NULL DEFAULT 0,
	blocks      BIGINT NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_run_pages (
	run_id      UUID NOT NULL REFERENCES harvest_runs(id),
	page        INTEGER NOT NULL,
	records     BIGINT NOT NULL DEFAULT 0,
	failures    BIGINT NOT NULL DEFAULT 0,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, page)
);`

// Config controls the connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres and ensures the schema exists.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger.dsn is required")
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
	s := &RunStore{pool: p}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool (used by tests).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema applies Schema.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// StartRun inserts the run row.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, rangeStart, rangeEnd int) error {
	const query = `
		INSERT INTO harvest_runs (id, started_at, status, range_start, range_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $2)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning, rangeStart, rangeEnd); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun applies counter deltas. A zero LastPage keeps the stored value.
func (s *RunStore) UpdateRun(ctx context.Context, runID uuid.UUID, d store.RunDelta) error {
	const query = `
		UPDATE harvest_runs
		SET last_page = CASE WHEN $1 > 0 THEN $1 ELSE last_page END,
			records = records + $2,
			failures = failures + $3,
			restarts = restarts + $4,
			blocks = blocks + $5,
			updated_at = $6
		WHERE id = $7;`
	res, err := s.pool.Exec(ctx, query, d.LastPage, d.Records, d.Failures, d.Restarts, d.Blocks, d.At, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FinishRun records the terminal status.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	reason *string,
) error {
	const query = `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, reason = $3, updated_at = $1
		WHERE id = $4;`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, reason, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// UpsertPageStats applies per-page deltas.
func (s *RunStore) UpsertPageStats(
	ctx context.Context,
	runID uuid.UUID,
	page int,
	records,
	failures int64,
	at time.Time,
) error {
	const query = `
		INSERT INTO harvest_run_pages (run_id, page, records, failures, last_update)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, page) DO UPDATE
		SET records = harvest_run_pages.records + EXCLUDED.records,
			failures = harvest_run_pages.failures + EXCLUDED.failures,
			last_update = EXCLUDED.last_update;`
	if _, err := s.pool.Exec(ctx, query, runID, page, records, failures, at); err != nil {
		return fmt.Errorf("upsert page stats: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, reason, range_start, range_end,
	last_page, records, failures, restarts, blocks, updated_at`

func scanRun(row pgx.Row) (store.Run, error) {
	var r store.Run
	err := row.Scan(
		&r.ID,
		&r.StartedAt,
		&r.FinishedAt,
		&r.Status,
		&r.Reason,
		&r.RangeStart,
		&r.RangeEnd,
		&r.LastPage,
		&r.Records,
		&r.Failures,
		&r.Restarts,
		&r.Blocks,
		&r.UpdatedAt,
	)
	return r, err
}

// GetRun loads a single run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunPages returns per-page stats ordered by page.
func (s *RunStore) ListRunPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.PageStats, error) {
	const query = `
		SELECT run_id, page, records, failures, last_update
		FROM harvest_run_pages
		WHERE run_id = $1
		ORDER BY page DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run pages: %w", err)
	}
	defer rows.Close()

	var out []store.PageStats
	for rows.Next() {
		var p store.PageStats
		if err := rows.Scan(&p.RunID, &p.Page, &p.Records, &p.Failures, &p.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run pages: %w", err)
	}
	return out, nil
}
