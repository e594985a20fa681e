// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/logging"
	"github.com/quarrysearch/quarry/internal/service"
	"github.com/quarrysearch/quarry/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath string
	logLevel   string
)

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Hybrid code search over lexical and vector indexes",
		Long: `Quarry indexes codebases into a BM25 index and a vector store,
then answers queries by fusing both rankings with weighted RRF.

Indexing is asynchronous: the index command enqueues durable jobs
that a processor-role worker drains. Run 'quarry worker' for a
long-lived processor, or let one-shot commands drain inline.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("quarry version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStoresCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// openService loads configuration, sets up logging, and wires the
// service. The returned cleanup closes both.
func openService() (*service.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	svc, err := service.New(cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}
	cleanup := func() {
		_ = svc.Close()
		logCleanup()
	}
	return svc, cleanup, nil
}
