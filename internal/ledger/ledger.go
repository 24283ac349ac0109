// Package ledger records one row per pipeline run so operators can audit
// what was produced and which sources failed.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// ErrNotFound is returned when no matching run has been recorded.
var ErrNotFound = errors.New("ledger: run not found")

// Run is one ledger row.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Status     corpus.ReleaseStatus
	// Manifest is the manifest path relative to the release root.
	Manifest string
	Shards   int
	Accepted int
	Skipped  int
	Rejected int
	// Failures maps failed source identifiers to their error text.
	Failures map[string]string
}

// Ledger persists runs.
type Ledger interface {
	RecordRun(ctx context.Context, run Run) error
	LatestRun(ctx context.Context) (Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	Close() error
}
