package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/corpus-crawler/internal/progress"
)

// PrometheusSink turns run events into run-level collectors. Per-record
// counters live in the metrics package.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	runsRunning    prometheus.Gauge
	runDuration    *prometheus.HistogramVec
	sourceDuration *prometheus.HistogramVec
	lastRecords    *prometheus.GaugeVec

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors on reg, or on the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corpus_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_runs_finished_total",
			Help: "Pipeline runs finished, by status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corpus_runs_running",
			Help: "Pipeline runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_run_duration_seconds",
			Help:    "Wall time per finished run, by status.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"status"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_source_duration_seconds",
			Help:    "Wall time per source task, by source and outcome.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"source", "outcome"}),
		lastRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "corpus_source_last_records",
			Help: "Records accepted from each source in its latest run.",
		}, []string{"source"}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.sourceDuration,
		s.lastRecords,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			status := evt.Note
			if evt.Stage == progress.StageRunError || status == "" {
				status = "failed"
			}
			s.runsFinished.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		case progress.StageSourceDone:
			s.lastRecords.WithLabelValues(evt.Source).Set(float64(evt.Records))
			s.observeSource(evt, "ok")
		case progress.StageSourceError:
			s.lastRecords.WithLabelValues(evt.Source).Set(0)
			s.observeSource(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) observeSource(evt progress.Event, outcome string) {
	if evt.Dur > 0 {
		s.sourceDuration.WithLabelValues(evt.Source, outcome).Observe(evt.Dur.Seconds())
	}
}

// track adds or removes id from the running set and reports whether the set
// changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		s.running[id] = struct{}{}
		return !ok
	}
	delete(s.running, id)
	return ok
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error { return nil }
