package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rewired-gh/calspread/internal/config"
	"github.com/rewired-gh/calspread/internal/logger"
)

var (
	configPath string
	envFiles   []string

	startDate   string
	endDate     string
	instruments string
	rolePolicy  string
	fixturePath string
)

var rootCmd = &cobra.Command{
	Use:   "calspread",
	Short: "Futures calendar spread dynamics analysis",
	Long: `calspread fetches daily settlement prices for CL, HO, YM and RTY futures,
builds the second-minus-front calendar spread of each, and reports summary
statistics, rolling-average deviations and cross-spread correlation.

Examples:
  calspread run
  calspread run --start 2025-12-12 --end 2025-12-19 --instruments CL,YM
  calspread run --fixture observations.json --print
  calspread serve --config configs/config.yaml
  calspread instruments`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Files to read WRDS credentials from")

	addAnalysisFlags(runCmd.Flags())
	addAnalysisFlags(serveCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(instrumentsCmd)
}

// addAnalysisFlags registers the per-invocation overrides of the analysis section.
func addAnalysisFlags(fs *pflag.FlagSet) {
	fs.StringVar(&startDate, "start", "", "First day of the analysis period (YYYY-MM-DD)")
	fs.StringVar(&endDate, "end", "", "Last day of the analysis period (YYYY-MM-DD)")
	fs.StringVar(&instruments, "instruments", "", "Comma-separated tickers to analyze, e.g. CL,YM")
	fs.StringVar(&rolePolicy, "role-policy", "", "Front/second selection: expiration or density")
	fs.StringVar(&fixturePath, "fixture", "", "Read observations from a JSON fixture instead of the database")
}

// loadConfig reads and validates the configuration, applies flag overrides and
// initializes logging.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if fs.Changed("start") {
		cfg.Analysis.StartDate = startDate
	}
	if fs.Changed("end") {
		cfg.Analysis.EndDate = endDate
	}
	if fs.Changed("instruments") {
		cfg.Analysis.Instruments = splitList(instruments)
		cfg.Analysis.CrossPairs = keepPairs(cfg.Analysis.CrossPairs, cfg.Analysis.Instruments)
	}
	if fs.Changed("role-policy") {
		cfg.Analysis.RolePolicy = rolePolicy
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// keepPairs drops cross pairs that name an instrument no longer selected.
func keepPairs(pairs [][]string, selected []string) [][]string {
	in := make(map[string]bool, len(selected))
	for _, s := range selected {
		in[s] = true
	}
	var out [][]string
	for _, p := range pairs {
		ok := len(p) == 2
		for _, s := range p {
			ok = ok && in[strings.ToUpper(s)]
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}
