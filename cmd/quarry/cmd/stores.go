package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStoresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "Manage stores",
		Long:  `List, create, delete, and inspect stores.`,
	}

	cmd.AddCommand(newStoresListCmd())
	cmd.AddCommand(newStoresCreateCmd())
	cmd.AddCommand(newStoresDeleteCmd())
	cmd.AddCommand(newStoresStatsCmd())
	return cmd
}

func newStoresListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			stores, err := svc.ListStores()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stores)
			}
			if len(stores) == 0 {
				fmt.Fprintln(out, "no stores registered")
				return nil
			}
			for _, s := range stores {
				fmt.Fprintf(out, "%s\t%s\t(updated %s)\n",
					s.Name, s.Description, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newStoresCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a store and provision its collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := svc.CreateStore(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created store %s\n", store.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Store description")
	return cmd
}

func newStoresDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a store and all of its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.DeleteStore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted store %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newStoresStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats <name>",
		Short: "Show per-layer counts for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.StoreStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(out, "store:         %s\n", stats.Name)
			fmt.Fprintf(out, "documents:     %d\n", stats.Documents)
			fmt.Fprintf(out, "vectors:       %d\n", stats.Vectors)
			fmt.Fprintf(out, "tracked files: %d\n", stats.TrackedFiles)
			fmt.Fprintf(out, "pending jobs:  %d\n", stats.PendingJobs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
