package cmd

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the settings snapshot a manifest embeds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			snapshot := e.cfg.Pipeline.ExportEnv()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(snapshot); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				return nil
			}
			for _, k := range slices.Sorted(maps.Keys(snapshot)) {
				if _, err := fmt.Fprintf(out, "%s=%s\n", k, snapshot[k]); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as a JSON object")
	return cmd
}
