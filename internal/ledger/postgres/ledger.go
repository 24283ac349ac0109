// Package postgres stores the run ledger in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// querier is satisfied by *pgxpool.Pool and pgxmock pools.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Ledger implements ledger.Ledger.
type Ledger struct {
	pool  querier
	table string
}

// Open connects to Postgres and creates the ledger table when missing.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool builds a Ledger on an existing pool.
func NewWithPool(pool querier, table string) (*Ledger, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "corpus_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// Migrate creates the ledger table.
func (l *Ledger) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	manifest    TEXT NOT NULL,
	shards      INTEGER NOT NULL,
	accepted    INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	rejected    INTEGER NOT NULL,
	failures    JSONB NOT NULL DEFAULT '{}'::jsonb
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// RecordRun inserts run, replacing an earlier row with the same ID.
func (l *Ledger) RecordRun(ctx context.Context, run ledger.Run) error {
	failures, err := marshalFailures(run.Failures)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, finished_at, status, manifest,
	shards, accepted, skipped, rejected, failures
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	status = EXCLUDED.status,
	manifest = EXCLUDED.manifest,
	shards = EXCLUDED.shards,
	accepted = EXCLUDED.accepted,
	skipped = EXCLUDED.skipped,
	rejected = EXCLUDED.rejected,
	failures = EXCLUDED.failures`, l.table)

	if _, err := l.pool.Exec(ctx, query,
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		string(run.Status),
		run.Manifest,
		run.Shards,
		run.Accepted,
		run.Skipped,
		run.Rejected,
		failures,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT run_id, started_at, finished_at, status, manifest,
	shards, accepted, skipped, rejected, failures
FROM %s`

// LatestRun returns the most recently started run.
func (l *Ledger) LatestRun(ctx context.Context) (ledger.Run, error) {
	query := fmt.Sprintf(selectColumns+`
ORDER BY started_at DESC
LIMIT 1`, l.table)
	run, err := scanRun(l.pool.QueryRow(ctx, query))
	if err != nil {
		return ledger.Run{}, fmt.Errorf("select latest run: %w", err)
	}
	return run, nil
}

// GetRun returns the run with id.
func (l *Ledger) GetRun(ctx context.Context, id uuid.UUID) (ledger.Run, error) {
	query := fmt.Sprintf(selectColumns+`
WHERE run_id = $1`, l.table)
	run, err := scanRun(l.pool.QueryRow(ctx, query, id))
	if err != nil {
		return ledger.Run{}, fmt.Errorf("select run %s: %w", id, err)
	}
	return run, nil
}

func scanRun(row pgx.Row) (ledger.Run, error) {
	var (
		run      ledger.Run
		status   string
		failures []byte
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Manifest,
		&run.Shards,
		&run.Accepted,
		&run.Skipped,
		&run.Rejected,
		&failures,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Run{}, ledger.ErrNotFound
		}
		return ledger.Run{}, err
	}
	run.Status = corpus.ReleaseStatus(status)
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return ledger.Run{}, fmt.Errorf("decode failures: %w", err)
		}
	}
	return run, nil
}

// Close releases the pool.
func (l *Ledger) Close() error {
	if l == nil || l.pool == nil {
		return nil
	}
	l.pool.Close()
	return nil
}

func marshalFailures(failures map[string]string) ([]byte, error) {
	if failures == nil {
		failures = map[string]string{}
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("marshal failures: %w", err)
	}
	return data, nil
}
