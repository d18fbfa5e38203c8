package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/calspread/internal/httpapi"
	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/storage"
)

var (
	listenAddr string
	runTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs, reports and metrics over HTTP",
	Long: `Start an HTTP server that triggers analysis runs on POST /runs and serves the
latest run as JSON or text. The last saved report is served until the first
run completes. Prometheus metrics are exposed on /metrics.`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen)")
	serveCmd.Flags().DurationVar(&runTimeout, "run-timeout", 10*time.Minute, "Upper bound for a triggered run")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, fixturePath)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []httpapi.Option{
		httpapi.WithAfterRun(a.deliver),
		httpapi.WithRunTimeout(runTimeout),
		httpapi.WithHistory(storage.New(cfg.Server.HistorySize)),
	}
	previous, err := a.writer.LoadLatest()
	if err != nil {
		logger.Warn("Failed to load previous run from %s: %v", a.writer.Dir(), err)
	} else if previous != nil {
		logger.Info("Serving previous run %s until a new one completes", previous.ID)
		opts = append(opts, httpapi.WithInitialRun(previous))
	}

	srv := httpapi.New(a.runner, a.metrics, opts...)
	err = srv.ListenAndServe(ctx, cfg.Server.Listen)
	logger.Info("Service stopped")
	return err
}
