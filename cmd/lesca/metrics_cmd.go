package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect the Metrics Collector",
	}
	cmd.AddCommand(newMetricsExportCmd(), newMetricsWatchCmd(), newMetricsServeCmd())
	return cmd
}

func newMetricsExportCmd() *cobra.Command {
	var format string
	var outPath string
	var includeHistory bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export collected metrics as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch format {
			case "json":
				var err error
				data, err = theApp.metrics.ExportJSON(time.Now().UnixMilli(), includeHistory)
				if err != nil {
					return fmt.Errorf("export json: %w", err)
				}
			case "csv":
				data = []byte(theApp.metrics.ExportCSV())
			default:
				return &usageError{err: fmt.Errorf("unknown format %q (want json|csv)", format)}
			}

			if outPath == "" {
				_, err := os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o600)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "export format: json|csv")
	cmd.Flags().StringVar(&outPath, "out", "", "write the export here instead of stdout")
	cmd.Flags().BoolVar(&includeHistory, "history", false, "include each session's raw event history (json only)")
	return cmd
}

func newMetricsWatchCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live TUI dashboard over the Metrics Collector's subscriber feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetricsWatchTUI(theApp.metrics, refresh)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "minimum interval between screen redraws")
	return cmd
}

// newMetricsServeCmd implements `lesca metrics serve`: periodically
// pushes the Collector's current state into the PrometheusExporter and
// serves its /metrics handler, giving app.prom the HTTP listener it has
// no use for in the other one-shot subcommands.
func newMetricsServeCmd() *cobra.Command {
	var addr string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a Prometheus /metrics endpoint backed by the Metrics Collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.MetricsPrometheusAddr
			}
			if addr == "" {
				return &usageError{err: fmt.Errorf("no listen address: pass --addr or set LESCA_METRICS_PROMETHEUS_ADDR")}
			}

			ctx := cmd.Context()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			theApp.prom.Update(theApp.metrics)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						theApp.prom.Update(theApp.metrics)
					}
				}
			}()

			mux := http.NewServeMux()
			mux.Handle("/metrics", theApp.prom.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}

			go func() {
				<-ctx.Done()
				srv.Close()
			}()

			log.Info().Str("addr", addr).Msg("lesca: serving prometheus metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to LESCA_METRICS_PROMETHEUS_ADDR)")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "how often the exporter is refreshed from the collector")
	return cmd
}
