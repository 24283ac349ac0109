package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/ledger"
	"github.com/JakeFAU/corpus-crawler/internal/logging"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
)

const (
	requestTimeout = 60 * time.Second
	ledgerTimeout  = 3 * time.Second
)

// Runner is the slice of the orchestrator the server drives.
type Runner interface {
	ExecuteAndExport(ctx context.Context) (pipeline.RunOutcome, error)
	Running() bool
	Stage() pipeline.Stage
	Latest() (pipeline.RunOutcome, bool)
}

// Config holds the optional collaborators of a Server.
type Config struct {
	// Ledger backs run lookups once the orchestrator has forgotten them.
	Ledger ledger.Ledger
	// Gatherer is scraped by /metrics; nil means the default gatherer.
	Gatherer prometheus.Gatherer
	APIKey   string
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and the run ledger.
type Server struct {
	router  chi.Router
	runner  Runner
	ledger  ledger.Ledger
	logger  *zap.Logger
	timeout time.Duration

	// base outlives requests so a run started over HTTP is not cancelled
	// when its request returns.
	base     context.Context
	cancel   context.CancelFunc
	starting atomic.Bool
	wg       sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, cfg Config) *Server {
	logger := logging.OrNop(cfg.Logger)
	metricsHandler := metrics.Handler()
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		ledger:  cfg.Ledger,
		logger:  logger,
		timeout: ledgerTimeout,
		base:    base,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/current", s.currentRun)
			r.Get("/latest", s.latestRun)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels a run started over HTTP and waits for it to return or for
// ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		if _, err := s.ledger.LatestRun(ctx); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("ledger not ready", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
