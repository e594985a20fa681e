package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var (
		store  string
		prefix string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "delete [path...]",
		Short: "Remove files from a store",
		Long: `Remove files from every layer of a store.

Pass explicit paths, or --prefix to remove everything under a
directory:

  quarry delete --store repo auth/token.go
  quarry delete --store repo --prefix vendor/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prefix == "" && len(args) == 0 {
				return fmt.Errorf("pass at least one path or --prefix")
			}
			if prefix != "" && len(args) > 0 {
				return fmt.Errorf("paths and --prefix are mutually exclusive")
			}

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := cmd.Context()

			if prefix != "" {
				err = svc.DeleteByPrefix(ctx, store, prefix)
			} else {
				err = svc.Delete(ctx, store, args...)
			}
			if err != nil {
				return err
			}
			if !noWait {
				if err := svc.Drain(ctx); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deletion enqueued and processed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&store, "store", "s", "default", "Store to delete from")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Remove every path under this prefix")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Enqueue only; do not drain the job queues")

	return cmd
}
