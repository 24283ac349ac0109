// Package pipeline runs every configured source concurrently through the
// normalizer and the PII gate, then exports the accepted records as JSONL
// shards described by a manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/corpus-crawler/internal/clock/system"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/crawler"
	"github.com/JakeFAU/corpus-crawler/internal/gate"
	sha "github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/corpus-crawler/internal/id/uuid"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/normalize"
	"github.com/JakeFAU/corpus-crawler/internal/progress"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing on the same orchestrator.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Options wires an Orchestrator. Crawlers, Normalizer and Gate are required;
// everything else has a default or is optional.
type Options struct {
	Config     config.PipelineConfig
	Crawlers   []crawler.Crawler
	Normalizer *normalize.Normalizer
	Gate       *gate.Gate

	Clock    corpus.Clock
	Hasher   corpus.Hasher
	IDs      idgen.Generator
	Progress progress.Emitter
	Logger   *zap.Logger

	// Mirror, Publisher and Ledger are post-export steps of
	// ExecuteAndExport. Nil skips the step.
	Mirror    corpus.BlobStore
	Publisher corpus.Publisher
	Ledger    ledger.Ledger
}

// Orchestrator drives pipeline runs. A single Orchestrator runs at most one
// ExecuteAndExport at a time.
type Orchestrator struct {
	cfg        config.PipelineConfig
	crawlers   []crawler.Crawler
	normalizer *normalize.Normalizer
	gate       *gate.Gate
	clock      corpus.Clock
	hasher     corpus.Hasher
	ids        idgen.Generator
	progress   progress.Emitter
	logger     *zap.Logger
	mirror     corpus.BlobStore
	publisher  corpus.Publisher
	ledger     ledger.Ledger

	mu      sync.Mutex
	stage   Stage
	running bool
	latest  *RunOutcome
}

// New validates opts and creates the storage roots.
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Crawlers) == 0 {
		return nil, errors.New("pipeline: at least one crawler is required")
	}
	if opts.Normalizer == nil || opts.Gate == nil {
		return nil, errors.New("pipeline: normalizer and gate are required")
	}
	if opts.Config.Storage.ReleaseRoot == "" {
		return nil, fmt.Errorf("%w: pipeline.storage.release_root must be set", config.ErrInvalid)
	}
	if err := opts.Config.Storage.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	o := &Orchestrator{
		cfg:        opts.Config,
		crawlers:   opts.Crawlers,
		normalizer: opts.Normalizer,
		gate:       opts.Gate,
		clock:      opts.Clock,
		hasher:     opts.Hasher,
		ids:        opts.IDs,
		progress:   opts.Progress,
		logger:     logging.OrNop(opts.Logger).Named("pipeline"),
		mirror:     opts.Mirror,
		publisher:  opts.Publisher,
		ledger:     opts.Ledger,
		stage:      StageIdle,
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.hasher == nil {
		o.hasher = sha.New()
	}
	if o.ids == nil {
		o.ids = idgen.V7{}
	}
	if o.progress == nil {
		o.progress = progress.Discard
	}
	return o, nil
}

// Stage reports where the current or last run is.
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Sources lists the crawler identifiers in run order.
func (o *Orchestrator) Sources() []string {
	out := make([]string, 0, len(o.crawlers))
	for _, c := range o.crawlers {
		out = append(out, c.Source())
	}
	return out
}

func (o *Orchestrator) setStage(runID uuid.UUID, stage Stage) {
	o.mu.Lock()
	o.stage = stage
	o.mu.Unlock()
	o.logger.Debug("stage transition", zap.String("stage", string(stage)))
	o.progress.Emit(progress.Event{
		RunID: runID,
		TS:    o.clock.Now(),
		Stage: progress.StageRunStage,
		Note:  string(stage),
	})
}

// sourceResult is the value one source task hands back: accepted records or
// a failure, never both.
type sourceResult struct {
	records []corpus.CanonicalRecord
	report  SourceReport
}

// Run crawls every source concurrently. Each source's items are normalized
// and gated in crawler order. A source that fails, panics or is cancelled
// is reported and contributes zero records; it never aborts its siblings.
// The returned error is non-nil only when no run ID could be allocated.
func (o *Orchestrator) Run(ctx context.Context) (Results, error) {
	runID, err := o.ids.NewRunID()
	if err != nil {
		return Results{}, fmt.Errorf("pipeline run: %w", err)
	}
	return o.run(ctx, runID), nil
}

func (o *Orchestrator) run(ctx context.Context, runID uuid.UUID) Results {
	started := o.clock.Now().UTC()
	o.setStage(runID, StageCrawling)

	results := make([]sourceResult, len(o.crawlers))
	// Tasks never return an error so a failing source cannot cancel the
	// group's siblings.
	var g errgroup.Group
	for i, c := range o.crawlers {
		g.Go(func() error {
			results[i] = o.runSource(ctx, runID, c)
			return nil
		})
	}
	o.setStage(runID, StageNormalizing)
	_ = g.Wait()

	out := Results{
		RunID:     runID,
		StartedAt: started,
		Records:   make(map[corpus.Domain][]corpus.CanonicalRecord),
	}
	for _, res := range results {
		out.Report.Sources = append(out.Report.Sources, res.report)
		if len(res.records) > 0 {
			out.Records[res.report.Domain] = append(out.Records[res.report.Domain], res.records...)
		}
	}
	o.setStage(runID, StageAggregated)
	return out
}

func (o *Orchestrator) runSource(ctx context.Context, runID uuid.UUID, c crawler.Crawler) (res sourceResult) {
	source, domain := c.Source(), c.Domain()
	logger := o.logger.With(zap.String("source", source))
	start := time.Now()
	res.report = SourceReport{Source: source, Domain: domain}

	defer func() {
		if r := recover(); r != nil {
			res = failSource(res.report, fmt.Errorf("panic in source %s: %v", source, r))
			logger.Error("source task panicked", zap.Any("panic", r))
		}
		res.report.Duration = time.Since(start)
		o.finishSource(runID, res.report, logger)
	}()

	if err := ctx.Err(); err != nil {
		return failSource(res.report, fmt.Errorf("source %s not started: %w", source, err))
	}
	o.progress.Emit(progress.Event{
		RunID:  runID,
		TS:     o.clock.Now(),
		Stage:  progress.StageSourceStart,
		Source: source,
		Domain: string(domain),
	})

	var records []corpus.CanonicalRecord
	for raw, err := range c.Produce(ctx) {
		if err != nil {
			return failSource(res.report, err)
		}
		rec, ok := o.normalizer.Normalize(raw, domain)
		if !ok {
			res.report.Skipped++
			continue
		}
		rec, verdict := o.gate.Apply(rec)
		if !verdict.Accepted {
			res.report.Rejected++
			continue
		}
		records = append(records, rec)
	}
	// A cancelled crawl may have stopped early without yielding an error.
	if err := ctx.Err(); err != nil {
		return failSource(res.report, fmt.Errorf("source %s cancelled: %w", source, err))
	}
	res.records = records
	res.report.Accepted = len(records)
	return res
}

// failSource drops any partial output but keeps the skip/reject counters
// seen before the failure.
func failSource(report SourceReport, err error) sourceResult {
	report.Accepted = 0
	report.Err = err
	report.Error = err.Error()
	return sourceResult{report: report}
}

func (o *Orchestrator) finishSource(runID uuid.UUID, report SourceReport, logger *zap.Logger) {
	evt := progress.Event{
		RunID:    runID,
		TS:       o.clock.Now(),
		Source:   report.Source,
		Domain:   string(report.Domain),
		Records:  report.Accepted,
		Skipped:  report.Skipped,
		Rejected: report.Rejected,
		Dur:      report.Duration,
	}
	if report.Failed() {
		evt.Stage = progress.StageSourceError
		evt.Note = report.Error
		metrics.ObserveSourceRun(report.Source, "error")
		logger.Warn("source failed; exporting remaining sources", zap.Error(report.Err))
	} else {
		evt.Stage = progress.StageSourceDone
		metrics.ObserveSourceRun(report.Source, "ok")
		logger.Info("source finished",
			zap.Int("accepted", report.Accepted),
			zap.Int("skipped", report.Skipped),
			zap.Int("rejected", report.Rejected),
			zap.Duration("duration", report.Duration),
		)
	}
	o.progress.Emit(evt)
}
