package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/jobproto/internal/inspector"
	"github.com/cgast/jobproto/internal/metrics"
	"github.com/cgast/jobproto/pkg/events"
	"github.com/cgast/jobproto/pkg/protocol"
	"github.com/cgast/jobproto/pkg/spec"
)

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC 2.0 requests on stdin/stdout",
		Long: `Reads one JSON-RPC 2.0 request per line from stdin and writes one response
per line to stdout. Methods: protocol.validate, protocol.compile,
protocol.schema, history.list and history.get.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewMemoryBus(0)
			opts := []spec.Option{spec.WithEventBus(bus)}

			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Metrics.Enabled = metricsAddr != ""
				a.cfg.Metrics.Addr = metricsAddr
			}

			var history protocol.History
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			if hist != nil {
				defer hist.Close()
				history = hist
			}

			if a.cfg.Metrics.Enabled {
				collector := metrics.NewCollector(prometheus.NewRegistry())
				opts = append(opts, spec.WithRecorder(collector))

				var listing inspector.History
				if hist != nil {
					listing = hist
				}
				insp := inspector.New(bus, listing, collector.Handler(), a.logger)
				go func() {
					a.logger.Info("serving metrics and inspector", zap.String("addr", a.cfg.Metrics.Addr))
					if err := insp.Serve(ctx, a.cfg.Metrics.Addr); err != nil {
						a.logger.Error("inspector server error", zap.Error(err))
					}
				}()
			}

			handler := protocol.NewHandler()
			protocol.NewService(a.compiler(opts...), history, a.logger).Register(handler)
			a.logger.Info("serve mode started", zap.Strings("methods", handler.Methods()))

			err = handler.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			a.logger.Info("serve mode stopped", zap.Any("events", bus.CountByType()))
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and the inspector API on this address (overrides config)")
	return cmd
}
