package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the inference service and the job queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			h := svc.Health(cmd.Context())
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(h); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "inference: %s\n", healthWord(h.Inference))
				fmt.Fprintf(out, "queue:     %s\n", healthWord(h.Queue))
			}
			if !h.Inference || !h.Queue {
				return fmt.Errorf("one or more components are unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func healthWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}
