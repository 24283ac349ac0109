package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Long: `Starts the HTTP service: health probes, Prometheus metrics, and /v1/runs to
trigger a pipeline run and read the latest report. PORT overrides
server.port.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	logger := e.logger
	a, err := newApp(cmd.Context(), e.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}

	port := e.cfg.Server.Port
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err = strconv.Atoi(raw); err != nil {
			return fmt.Errorf("parse PORT %q: %w", raw, err)
		}
	}

	apiServer := api.NewServer(a.Orchestrator(), api.Config{
		Ledger: a.Ledger(),
		APIKey: e.cfg.Server.APIKey,
		Logger: logger.Named("api"),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(e.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("run drain error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
