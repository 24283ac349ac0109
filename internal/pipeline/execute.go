package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
	"github.com/JakeFAU/corpus-crawler/internal/progress"
)

// RunOutcome summarizes one ExecuteAndExport call. Paths are relative to the
// release root.
type RunOutcome struct {
	RunID      uuid.UUID            `json:"run_id"`
	Status     corpus.ReleaseStatus `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Shards     []string             `json:"shards"`
	Manifest   string               `json:"manifest"`
	Report     Report               `json:"report"`
	// MirrorURIs lists the stored object URIs when a mirror is configured.
	MirrorURIs []string `json:"mirror_uris,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
}

// ExecuteAndExport runs every source, exports shards, writes the manifest,
// then mirrors the release, publishes it and records it in the ledger when
// those are configured. A source failure is not an error; the outcome's
// report says which sources failed. Errors from the post-export steps are
// joined and returned together with a populated outcome.
func (o *Orchestrator) ExecuteAndExport(ctx context.Context) (RunOutcome, error) {
	if !o.begin() {
		return RunOutcome{}, ErrRunInProgress
	}
	defer o.end()

	runID, err := o.ids.NewRunID()
	if err != nil {
		return RunOutcome{}, fmt.Errorf("pipeline run: %w", err)
	}
	started := o.clock.Now()
	logger := o.logger.With(zap.Stringer("run_id", runID))
	o.progress.Emit(progress.Event{RunID: runID, TS: started, Stage: progress.StageRunStart})
	logger.Info("run started", zap.Strings("sources", o.Sources()))

	results := o.run(ctx, runID)
	outcome := RunOutcome{
		RunID:     runID,
		Status:    results.Report.Status(),
		StartedAt: results.StartedAt,
		Report:    results.Report,
	}

	o.setStage(runID, StageExporting)
	shards, err := o.Export(results)
	if err != nil {
		return o.abort(ctx, outcome, fmt.Errorf("pipeline export: %w", err))
	}
	manifest, err := o.BuildManifest(results, shards)
	if err != nil {
		return o.abort(ctx, outcome, err)
	}
	o.setStage(runID, StageManifested)

	for _, p := range shards {
		outcome.Shards = append(outcome.Shards, o.relative(p))
	}
	outcome.Manifest = o.relative(manifest)

	var stepErrs []error
	if err := o.mirrorRelease(ctx, &outcome, append(shards, manifest)); err != nil {
		stepErrs = append(stepErrs, err)
	}
	if err := o.publishRelease(ctx, &outcome); err != nil {
		stepErrs = append(stepErrs, err)
	}
	outcome.FinishedAt = o.clock.Now()
	if err := o.recordRun(ctx, outcome); err != nil {
		stepErrs = append(stepErrs, err)
	}

	o.setStage(runID, StageDone)
	o.remember(outcome)
	accepted, _, _ := outcome.Report.Totals()
	o.progress.Emit(progress.Event{
		RunID:   runID,
		TS:      outcome.FinishedAt,
		Stage:   progress.StageRunDone,
		Records: accepted,
		Dur:     outcome.FinishedAt.Sub(started),
		Note:    string(outcome.Status),
	})
	logger.Info("run finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("shards", len(outcome.Shards)),
		zap.String("manifest", outcome.Manifest),
	)
	return outcome, errors.Join(stepErrs...)
}

// abort records a run whose export failed. No manifest exists for it.
func (o *Orchestrator) abort(ctx context.Context, outcome RunOutcome, err error) (RunOutcome, error) {
	outcome.Status = corpus.ReleaseFailed
	outcome.FinishedAt = o.clock.Now()
	o.setStage(outcome.RunID, StageIdle)
	o.progress.Emit(progress.Event{
		RunID: outcome.RunID,
		TS:    outcome.FinishedAt,
		Stage: progress.StageRunError,
		Dur:   outcome.FinishedAt.Sub(outcome.StartedAt),
		Note:  err.Error(),
	})
	o.logger.Error("run failed", zap.Stringer("run_id", outcome.RunID), zap.Error(err))
	if lerr := o.recordRun(ctx, outcome); lerr != nil {
		err = errors.Join(err, lerr)
	}
	o.remember(outcome)
	return outcome, err
}

// mirrorRelease copies each file to <run id>/<relative path> in the mirror.
func (o *Orchestrator) mirrorRelease(ctx context.Context, outcome *RunOutcome, files []string) error {
	if o.mirror == nil {
		return nil
	}
	for _, file := range files {
		uri, err := o.mirrorFile(ctx, outcome.RunID, file)
		if err != nil {
			return fmt.Errorf("mirror release: %w", err)
		}
		outcome.MirrorURIs = append(outcome.MirrorURIs, uri)
	}
	return nil
}

func (o *Orchestrator) mirrorFile(ctx context.Context, runID uuid.UUID, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close() //nolint:errcheck

	contentType := "application/x-ndjson"
	if filepath.Ext(file) == ".json" {
		contentType = "application/json"
	}
	uri, err := o.mirror.PutObject(ctx, path.Join(runID.String(), o.relative(file)), contentType, f)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", file, err)
	}
	return uri, nil
}

func (o *Orchestrator) publishRelease(ctx context.Context, outcome *RunOutcome) error {
	if o.publisher == nil {
		return nil
	}
	failed := make([]string, 0)
	for source := range outcome.Report.Failures() {
		failed = append(failed, source)
	}
	sort.Strings(failed)
	release := corpus.Release{
		RunID:       outcome.RunID.String(),
		GeneratedAt: o.clock.Now().UTC().Format(ManifestTimeLayout),
		Status:      outcome.Status,
		Manifest:    outcome.Manifest,
		Shards:      outcome.Shards,
	}
	if len(failed) > 0 {
		release.FailedSources = failed
	}
	id, err := o.publisher.Publish(ctx, release)
	if err != nil {
		return fmt.Errorf("publish release: %w", err)
	}
	outcome.MessageID = id
	return nil
}

func (o *Orchestrator) recordRun(ctx context.Context, outcome RunOutcome) error {
	if o.ledger == nil {
		return nil
	}
	accepted, skipped, rejected := outcome.Report.Totals()
	err := o.ledger.RecordRun(ctx, ledger.Run{
		ID:         outcome.RunID,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
		Status:     outcome.Status,
		Manifest:   outcome.Manifest,
		Shards:     len(outcome.Shards),
		Accepted:   accepted,
		Skipped:    skipped,
		Rejected:   rejected,
		Failures:   outcome.Report.Failures(),
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Running reports whether ExecuteAndExport is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) remember(outcome RunOutcome) {
	o.mu.Lock()
	o.latest = &outcome
	o.mu.Unlock()
}

// Latest returns the outcome of the most recent run on this orchestrator.
func (o *Orchestrator) Latest() (RunOutcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latest == nil {
		return RunOutcome{}, false
	}
	return *o.latest, true
}
