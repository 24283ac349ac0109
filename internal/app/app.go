// Package app builds the long-lived services of a pipeline process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/corpus"
	"github.com/JakeFAU/corpus-crawler/internal/crawler"
	"github.com/JakeFAU/corpus-crawler/internal/gate"
	"github.com/JakeFAU/corpus-crawler/internal/ledger"
	"github.com/JakeFAU/corpus-crawler/internal/ledger/postgres"
	"github.com/JakeFAU/corpus-crawler/internal/ledger/sqlite"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/normalize"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
	"github.com/JakeFAU/corpus-crawler/internal/progress"
	"github.com/JakeFAU/corpus-crawler/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/corpus-crawler/internal/publisher/memory"
	"github.com/JakeFAU/corpus-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/corpus-crawler/internal/storage/gcs"
	"github.com/JakeFAU/corpus-crawler/internal/storage/local"
	"github.com/JakeFAU/corpus-crawler/internal/storage/memory"
	"github.com/JakeFAU/corpus-crawler/internal/transport"
)

// App holds the services one process shares: the orchestrator and the
// collaborators it was built from.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	hub          *progress.Hub
	ledger       ledger.Ledger
	closers      []func() error
}

// Option adjusts New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	transport  corpus.Transport
}

// WithRegisterer registers progress collectors on reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTransport replaces the transport selected by transport.mode.
func WithTransport(tr corpus.Transport) Option {
	return func(o *options) { o.transport = tr }
}

// New wires every service from cfg. It fails fast: any collaborator that
// cannot be built aborts startup and releases what was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	tr := o.transport
	if tr == nil {
		if tr, err = transport.New(ctx, cfg, logger.Named("transport")); err != nil {
			return nil, fmt.Errorf("init transport: %w", err)
		}
	}
	crawlers, err := crawler.FromConfig(cfg.Pipeline, crawler.Deps{Transport: tr, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init crawlers: %w", err)
	}
	classifiers, err := normalize.Classifiers(cfg.Pipeline.MetadataEnrichers, cfg.Pipeline.QualityKeywords)
	if err != nil {
		return nil, fmt.Errorf("init classifiers: %w", err)
	}
	g, err := gate.New(cfg.Pipeline.RedactPatterns, cfg.Pipeline.PIIDetectors, logger)
	if err != nil {
		return nil, fmt.Errorf("init gate: %w", err)
	}

	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if slices.Contains(cfg.Pipeline.MetricsSinks, "prometheus") {
		promSink, err := sinks.NewPrometheusSink(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("init progress metrics: %w", err)
		}
		hubSinks = append(hubSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)

	mirror, err := a.openMirror(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if a.ledger, err = a.openLedger(ctx); err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.New(pipeline.Options{
		Config:   cfg.Pipeline,
		Crawlers: crawlers,
		Normalizer: normalize.New(normalize.Options{
			DesiredLanguages: cfg.Pipeline.DesiredLanguages,
			MinContentLength: cfg.Pipeline.Website.MinContentLength,
			KeepWhitespace:   !cfg.Pipeline.NormalizeWhitespace,
			Classifiers:      classifiers,
			Logger:           logger,
		}),
		Gate:      g,
		Progress:  a.hub,
		Logger:    logger,
		Mirror:    mirror,
		Publisher: publisher,
		Ledger:    a.ledger,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("transport", cfg.Transport.Mode),
		zap.String("publish", cfg.Publish.Provider),
		zap.String("ledger", cfg.Ledger.Driver),
		zap.Strings("sources", a.orchestrator.Sources()),
	)
	return a, nil
}

func (a *App) openMirror(ctx context.Context) (corpus.BlobStore, error) {
	pc := a.cfg.Publish
	switch pc.Provider {
	case config.PublishNone:
		return nil, nil
	case config.PublishMemory:
		return memory.NewBlobStore(), nil
	case config.PublishLocal:
		store, err := local.New(local.Config{BaseDir: pc.LocalRoot})
		if err != nil {
			return nil, fmt.Errorf("init local mirror: %w", err)
		}
		return store, nil
	case config.PublishGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: pc.Bucket, Prefix: pc.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: publish.provider %q", config.ErrInvalid, pc.Provider)
	}
}

func (a *App) openPublisher(ctx context.Context) (corpus.Publisher, error) {
	pc := a.cfg.Publish
	switch {
	case pc.Topic == "":
		return nil, nil
	case pc.Provider == config.PublishMemory:
		return pubmemory.New(), nil
	case pc.ProjectID == "":
		return nil, fmt.Errorf("%w: publish.project_id must be set when publish.topic is", config.ErrInvalid)
	}
	pub, err := pubsub.Open(ctx, pc.ProjectID, pc.Topic)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *App) openLedger(ctx context.Context) (ledger.Ledger, error) {
	lc := a.cfg.Ledger
	switch lc.Driver {
	case config.LedgerNone:
		return nil, nil
	case config.LedgerPostgres:
		l, err := postgres.Open(ctx, postgres.Config{DSN: lc.DSN, Table: lc.Table})
		if err != nil {
			return nil, fmt.Errorf("init postgres ledger: %w", err)
		}
		return l, nil
	case config.LedgerSQLite:
		l, err := sqlite.Open(ctx, lc.DSN, lc.Table)
		if err != nil {
			return nil, fmt.Errorf("init sqlite ledger: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%w: ledger.driver %q", config.ErrInvalid, lc.Driver)
	}
}

// Orchestrator returns the pipeline orchestrator.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Ledger returns the run ledger, or nil when none is configured.
func (a *App) Ledger() ledger.Ledger { return a.ledger }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Close flushes progress events and closes every opened service. Errors are
// logged and returned joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	return err
}
