package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/report"
)

var printReport bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis once and write the report",
	Long: `Fetch every configured instrument, analyze its calendar spread and the
configured cross pairs, then write the report files to report.output_dir.

Instruments whose data cannot be fetched appear in the report as having no
spread; the run fails only when nothing at all could be analyzed.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&printReport, "print", false, "Also print the text report to stdout")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, fixturePath)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	a.deliver(ctx, run)

	if printReport {
		if err := report.WriteText(os.Stdout, run); err != nil {
			return err
		}
	}

	if len(run.Failures) > 0 && len(run.Failures) == len(run.Results) {
		return fmt.Errorf("no instrument could be fetched (%d failures)", len(run.Failures))
	}
	logger.Info("Analysis complete: %d spreads, %d cross pairs", len(run.Results), len(run.Cross))
	return nil
}
