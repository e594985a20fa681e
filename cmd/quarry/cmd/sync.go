package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "sync <store> [path]",
		Short: "Remove tracked files that no longer exist on disk",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := args[0]
			root := "."
			if len(args) > 1 {
				root = args[1]
			}

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			_, paths, err := collectFiles(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			removed, err := svc.Sync(ctx, store, paths)
			if err != nil {
				return err
			}
			if !noWait {
				if err := svc.Drain(ctx); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d deleted files from store %s\n", removed, store)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Enqueue only; do not drain the job queues")
	return cmd
}
