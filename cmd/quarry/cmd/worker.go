package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers until interrupted",
		Long: `Run the processor role: drain the embedding queue and every
per-store lexical queue until interrupted.

With --metrics-addr a Prometheus endpoint is served at /metrics and a
plain-text counter dump at /telemetry.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			var server *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", svc.Telemetry().Handler())
				mux.HandleFunc("/telemetry", func(w http.ResponseWriter, _ *http.Request) {
					_, _ = fmt.Fprint(w, svc.Telemetry().ExportText())
				})
				server = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics_server_failed", slog.String("error", err.Error()))
					}
				}()
				slog.Info("metrics_listening", slog.String("addr", metricsAddr))
			}

			err = svc.RunWorker(ctx)
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}
