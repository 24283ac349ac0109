package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "corpus_runs")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := ledger.Run{
		ID:         uuid.MustParse("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"),
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Status:     corpus.ReleasePartial,
		Manifest:   "manifests/manifest-20231114T221320Z.json",
		Shards:     3,
		Accepted:   12,
		Skipped:    2,
		Rejected:   1,
		Failures:   map[string]string{"github": "source unavailable"},
	}

	mock.ExpectExec("INSERT INTO corpus_runs").
		WithArgs(
			run.ID,
			run.StartedAt,
			run.FinishedAt,
			"partial",
			run.Manifest,
			3,
			12,
			2,
			1,
			[]byte(`{"github":"source unavailable"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunNilFailuresEncodesEmptyObject(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO corpus_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "success", "", 0, 0, 0, 0, []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.RecordRun(context.Background(), ledger.Run{Status: corpus.ReleaseSuccess}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "corpus_runs")
	require.NoError(t, err)

	id := uuid.MustParse("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b")
	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"run_id", "started_at", "finished_at", "status", "manifest",
		"shards", "accepted", "skipped", "rejected", "failures",
	}).AddRow(id, started, started.Add(time.Second), "failed", "", 0, 0, 0, 0, []byte(`{"website":"boom"}`))
	mock.ExpectQuery("SELECT run_id").WillReturnRows(rows)

	run, err := l.LatestRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, corpus.ReleaseFailed, run.Status)
	require.Equal(t, map[string]string{"website": "boom"}, run.Failures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "corpus_runs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT run_id").WillReturnError(pgx.ErrNoRows)

	_, err = l.LatestRun(context.Background())
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestGetRunFiltersByID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "corpus_runs")
	require.NoError(t, err)

	id := uuid.MustParse("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b")
	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"run_id", "started_at", "finished_at", "status", "manifest",
		"shards", "accepted", "skipped", "rejected", "failures",
	}).AddRow(id, started, started, "success", "manifests/m.json", 3, 9, 0, 0, []byte(`{}`))
	mock.ExpectQuery("WHERE run_id").WithArgs(id).WillReturnRows(rows)
	mock.ExpectQuery("WHERE run_id").WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)

	run, err := l.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 9, run.Accepted)
	require.Empty(t, run.Failures)

	_, err = l.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l, err := NewWithPool(mock, "runs_v2")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs_v2").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, l.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "runs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
