// Package sqlite stores the run ledger in a local SQLite file, for
// single-node deployments that have no Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Ledger implements ledger.Ledger on modernc.org/sqlite.
type Ledger struct {
	db    *sql.DB
	table string
}

// Open opens the database at dsn, enables WAL and creates the table.
func Open(ctx context.Context, dsn, table string) (*Ledger, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: dsn is required")
	}
	if table == "" {
		table = "corpus_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, eris.Errorf("sqlite: invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	l := &Ledger{db: db, table: table}
	if err := l.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// Migrate creates the ledger table and its index.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+l.table+` (
	run_id      TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	manifest    TEXT NOT NULL,
	shards      INTEGER NOT NULL,
	accepted    INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	rejected    INTEGER NOT NULL,
	failures    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_`+l.table+`_started_at ON `+l.table+`(started_at);
`)
	return eris.Wrap(err, "sqlite: migrate")
}

// RecordRun upserts run.
func (l *Ledger) RecordRun(ctx context.Context, run ledger.Run) error {
	failures := run.Failures
	if failures == nil {
		failures = map[string]string{}
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failures")
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO `+l.table+` (
	run_id, started_at, finished_at, status, manifest,
	shards, accepted, skipped, rejected, failures
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	finished_at = excluded.finished_at,
	status = excluded.status,
	manifest = excluded.manifest,
	shards = excluded.shards,
	accepted = excluded.accepted,
	skipped = excluded.skipped,
	rejected = excluded.rejected,
	failures = excluded.failures`,
		run.ID.String(),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		string(run.Status),
		run.Manifest,
		run.Shards,
		run.Accepted,
		run.Skipped,
		run.Rejected,
		string(data),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

// LatestRun returns the most recently started run.
func (l *Ledger) LatestRun(ctx context.Context) (ledger.Run, error) {
	run, err := scanRun(l.db.QueryRowContext(ctx, selectColumns+l.table+`
ORDER BY started_at DESC
LIMIT 1`))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Run{}, eris.Wrap(err, "sqlite: select latest run")
	}
	return run, err
}

// GetRun returns the run with id.
func (l *Ledger) GetRun(ctx context.Context, id uuid.UUID) (ledger.Run, error) {
	run, err := scanRun(l.db.QueryRowContext(ctx, selectColumns+l.table+`
WHERE run_id = ?`, id.String()))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Run{}, eris.Wrapf(err, "sqlite: select run %s", id)
	}
	return run, err
}

const selectColumns = `
SELECT run_id, started_at, finished_at, status, manifest,
	shards, accepted, skipped, rejected, failures
FROM `

func scanRun(row *sql.Row) (ledger.Run, error) {
	var (
		run               ledger.Run
		id, status        string
		started, finished string
		failures          string
	)
	err := row.Scan(
		&id, &started, &finished, &status, &run.Manifest,
		&run.Shards, &run.Accepted, &run.Skipped, &run.Rejected, &failures,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Run{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Run{}, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return ledger.Run{}, eris.Wrapf(err, "parse run id %q", id)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return ledger.Run{}, eris.Wrap(err, "parse started_at")
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return ledger.Run{}, eris.Wrap(err, "parse finished_at")
	}
	run.Status = corpus.ReleaseStatus(status)
	if err := json.Unmarshal([]byte(failures), &run.Failures); err != nil {
		return ledger.Run{}, eris.Wrap(err, "decode failures")
	}
	return run, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
