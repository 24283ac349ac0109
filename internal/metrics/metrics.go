// Package metrics exposes Prometheus collectors for the corpus pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsNormalizedTotal     *prometheus.CounterVec
	recordsSkippedTotal        *prometheus.CounterVec
	recordsRejectedTotal       *prometheus.CounterVec
	redactionsAppliedTotal     *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchFailuresTotal         *prometheus.CounterVec
	fetchesInFlight            prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	sourceRunsTotal            *prometheus.CounterVec
	shardBytesTotal            *prometheus.CounterVec
	shardsWrittenTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsNormalizedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_records_normalized_total",
				Help: "Total number of raw items normalized into records, labeled by domain.",
			},
			[]string{"domain"},
		)

		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_records_skipped_total",
				Help: "Total number of raw items skipped by the normalizer, labeled by domain and reason.",
			},
			[]string{"domain", "reason"},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_records_rejected_total",
				Help: "Total number of records rejected by the PII gate, labeled by domain and detector.",
			},
			[]string{"domain", "detector"},
		)

		redactionsAppliedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_redactions_applied_total",
				Help: "Total number of redaction patterns applied, labeled by domain.",
			},
			[]string{"domain"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_fetches_total",
				Help: "Total number of transport fetches, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_fetch_failures_total",
				Help: "Total number of fetches swallowed at the transport boundary, labeled by source and site.",
			},
			[]string{"source", "site"},
		)

		fetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_fetches_in_flight",
				Help: "Number of fetches currently holding a concurrency permit.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_source_runs_total",
				Help: "Total number of source tasks finished, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		shardBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_shard_bytes_total",
				Help: "Total number of bytes written to shards, labeled by domain.",
			},
			[]string{"domain"},
		)

		shardsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_shards_written_total",
				Help: "Total number of shards written, labeled by domain.",
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_http_requests_total",
				Help: "API requests, labeled by method, route pattern and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_http_request_duration_seconds",
				Help:    "API request latencies, labeled by method and route pattern.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNormalized counts a record that left the normalizer.
func ObserveNormalized(domain string) {
	Init()
	recordsNormalizedTotal.WithLabelValues(domain).Inc()
}

// ObserveSkipped counts a raw item the normalizer dropped.
func ObserveSkipped(domain, reason string) {
	Init()
	recordsSkippedTotal.WithLabelValues(domain, reason).Inc()
}

// ObserveRejected counts a gate rejection once per triggered detector.
func ObserveRejected(domain string, detectors []string) {
	Init()
	for _, d := range detectors {
		recordsRejectedTotal.WithLabelValues(domain, d).Inc()
	}
}

// ObserveRedactions counts applied redaction patterns.
func ObserveRedactions(domain string, n int) {
	Init()
	if n > 0 {
		redactionsAppliedTotal.WithLabelValues(domain).Add(float64(n))
	}
}

// ObserveFetch records the outcome of a transport fetch. Failures also
// increment the per-site failure counter.
func ObserveFetch(source, locator string, err error) {
	Init()
	if err != nil {
		fetchesTotal.WithLabelValues(source, "error").Inc()
		fetchFailuresTotal.WithLabelValues(source, SanitizeSite(locator)).Inc()
		return
	}
	fetchesTotal.WithLabelValues(source, "ok").Inc()
}

// IncFetchesInFlight increments the in-flight gauge.
func IncFetchesInFlight() {
	Init()
	fetchesInFlight.Inc()
}

// DecFetchesInFlight decrements the in-flight gauge.
func DecFetchesInFlight() {
	Init()
	fetchesInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveSourceRun records how a source task finished ("ok" or "error").
func ObserveSourceRun(source, outcome string) {
	Init()
	sourceRunsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveShard records a written shard.
func ObserveShard(domain string, bytesWritten int64) {
	Init()
	shardsWrittenTotal.WithLabelValues(domain).Inc()
	if bytesWritten > 0 {
		shardBytesTotal.WithLabelValues(domain).Add(float64(bytesWritten))
	}
}

// ObserveHTTPRequest records one API request. route is the chi pattern, not
// the raw path, so run IDs do not explode label cardinality.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
