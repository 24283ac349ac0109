package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/ledger"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
)

// startRun handles POST /v1/runs. The run executes in the background; the
// response is 202 with the status URL, or 409 while another run is active.
func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	if s.base.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if s.runner.Running() || !s.starting.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.starting.Store(false)
		outcome, err := s.runner.ExecuteAndExport(s.base)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			s.logger.Warn("run request lost race with another run")
		case err != nil:
			s.logger.Error("run finished with errors",
				zap.Stringer("run_id", outcome.RunID),
				zap.Error(err),
			)
		}
	}()

	w.Header().Set("Location", "/v1/runs/current")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// currentRun handles GET /v1/runs/current.
func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.runner.Running() || s.starting.Load(),
		"stage":   s.runner.Stage(),
	})
}

// latestRun handles GET /v1/runs/latest. The orchestrator's own latest outcome
// wins; otherwise the ledger's most recent row is returned. 404 when neither
// has a run.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if outcome, ok := s.runner.Latest(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(outcome)})
		return
	}
	s.lookup(w, r, func(ctx context.Context) (ledger.Run, error) {
		return s.ledger.LatestRun(ctx)
	})
}

// getRun handles GET /v1/runs/{run_id}. It returns 400 for malformed IDs.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if outcome, ok := s.runner.Latest(); ok && outcome.RunID == id {
		writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(outcome)})
		return
	}
	s.lookup(w, r, func(ctx context.Context) (ledger.Run, error) {
		return s.ledger.GetRun(ctx, id)
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, get func(context.Context) (ledger.Run, error)) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	run, err := get(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("ledger lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": fromLedger(run)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

type runDTO struct {
	RunID      string            `json:"run_id"`
	Status     string            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Manifest   string            `json:"manifest,omitempty"`
	Shards     int               `json:"shards"`
	Accepted   int               `json:"accepted"`
	Skipped    int               `json:"skipped"`
	Rejected   int               `json:"rejected"`
	Failures   map[string]string `json:"failures,omitempty"`
	// Sources is only known for runs of this process.
	Sources []pipeline.SourceReport `json:"sources,omitempty"`
}

func toRunDTO(outcome pipeline.RunOutcome) runDTO {
	accepted, skipped, rejected := outcome.Report.Totals()
	return runDTO{
		RunID:      outcome.RunID.String(),
		Status:     string(outcome.Status),
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
		Manifest:   outcome.Manifest,
		Shards:     len(outcome.Shards),
		Accepted:   accepted,
		Skipped:    skipped,
		Rejected:   rejected,
		Failures:   outcome.Report.Failures(),
		Sources:    outcome.Report.Sources,
	}
}

func fromLedger(run ledger.Run) runDTO {
	return runDTO{
		RunID:      run.ID.String(),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Manifest:   run.Manifest,
		Shards:     run.Shards,
		Accepted:   run.Accepted,
		Skipped:    run.Skipped,
		Rejected:   run.Rejected,
		Failures:   run.Failures,
	}
}
