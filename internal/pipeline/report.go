package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// SourceReport is the outcome of one source task. Err is nil for a source
// that completed; a failed source exported nothing.
type SourceReport struct {
	Source   string        `json:"source"`
	Domain   corpus.Domain `json:"domain"`
	Accepted int           `json:"accepted"`
	Skipped  int           `json:"skipped"`
	Rejected int           `json:"rejected"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the source contributed no output because of an
// error.
func (s SourceReport) Failed() bool { return s.Err != nil }

// Report is the partial-result report of a run, in source order.
type Report struct {
	Sources []SourceReport `json:"sources"`
}

// Failures maps each failed source to its error text.
func (r Report) Failures() map[string]string {
	out := make(map[string]string)
	for _, s := range r.Sources {
		if s.Failed() {
			out[s.Source] = s.Err.Error()
		}
	}
	return out
}

// Totals sums the per-source counters.
func (r Report) Totals() (accepted, skipped, rejected int) {
	for _, s := range r.Sources {
		accepted += s.Accepted
		skipped += s.Skipped
		rejected += s.Rejected
	}
	return accepted, skipped, rejected
}

// Status is success when every source completed, failed when none did and
// partial otherwise.
func (r Report) Status() corpus.ReleaseStatus {
	failed := len(r.Failures())
	switch {
	case failed == 0:
		return corpus.ReleaseSuccess
	case failed == len(r.Sources):
		return corpus.ReleaseFailed
	default:
		return corpus.ReleasePartial
	}
}

// RejectionCounts is what the normalizer and gate dropped for a domain.
type RejectionCounts struct {
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Rejections aggregates skipped and rejected counts per domain.
func (r Report) Rejections() map[corpus.Domain]RejectionCounts {
	out := make(map[corpus.Domain]RejectionCounts)
	for _, s := range r.Sources {
		c := out[s.Domain]
		c.Skipped += s.Skipped
		c.Rejected += s.Rejected
		out[s.Domain] = c
	}
	return out
}

// Results is the aggregated output of Run.
type Results struct {
	RunID     uuid.UUID
	StartedAt time.Time
	// Records holds accepted records per domain. Within a domain, records
	// keep crawler order; vocabulary sources are appended in source order.
	Records map[corpus.Domain][]corpus.CanonicalRecord
	Report  Report
}
