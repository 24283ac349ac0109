package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/corpus"
)

// errRunFailed is returned when no source produced anything usable.
var errRunFailed = errors.New("run failed")

func newRunCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and print its report",
		Long: `Crawls every configured source, gates and exports the records, writes the
manifest, and prints the run outcome as JSON. A run where some sources failed
still exports what the others produced and exits zero unless --strict is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any source failed")
	return cmd
}

func runPipeline(cmd *cobra.Command, strict bool) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		// The run context may already be cancelled; shutdown still flushes.
		if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			e.logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	outcome, runErr := a.Orchestrator().ExecuteAndExport(cmd.Context())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	switch {
	case runErr != nil:
		return runErr
	case outcome.Status == corpus.ReleaseFailed:
		return errRunFailed
	case strict && outcome.Status == corpus.ReleasePartial:
		return fmt.Errorf("run partial: failed sources %v", outcome.Report.Failures())
	}
	return nil
}
