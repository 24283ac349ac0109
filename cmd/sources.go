package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured source identifiers in run order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			for _, source := range e.cfg.Pipeline.Sources() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), source); err != nil {
					return fmt.Errorf("write sources: %w", err)
				}
			}
			return nil
		},
	}
}
