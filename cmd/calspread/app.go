package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/rewired-gh/calspread/internal/config"
	"github.com/rewired-gh/calspread/internal/contracts"
	"github.com/rewired-gh/calspread/internal/datasource"
	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/metrics"
	"github.com/rewired-gh/calspread/internal/models"
	"github.com/rewired-gh/calspread/internal/pipeline"
	"github.com/rewired-gh/calspread/internal/report"
	"github.com/rewired-gh/calspread/internal/telegram"
)

// app holds the wired components shared by run and serve.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Registry
	runner   *pipeline.Runner
	writer   *report.Writer
	telegram *telegram.Client
	closers  []func() error
}

// newApp wires the components. A non-empty fixture replaces the database
// with observations read from that JSON file.
func newApp(ctx context.Context, cfg *config.Config, fixture string) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var src datasource.Source
	var err error
	if fixture != "" {
		src, err = loadFixture(fixture)
	} else {
		src, err = a.openSource(ctx)
	}
	if err != nil {
		return nil, err
	}

	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.runner, err = pipeline.New(src, pcfg, a.metrics)
	if err != nil {
		return nil, err
	}

	a.writer, err = report.NewWriter(cfg.Report.OutputDir, cfg.Report.Formats)
	if err != nil {
		return nil, err
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ok = true
	return a, nil
}

// openSource connects to the configured database and wraps it with the
// guard and, when enabled, the Redis cache.
func (a *app) openSource(ctx context.Context) (datasource.Source, error) {
	cfg := a.cfg
	creds, err := config.LoadCredentials(envFiles...)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.ResolveDSN(creds)
	if err != nil {
		return nil, err
	}

	db, err := datasource.Open(ctx, datasource.DBConfig{
		Driver:      cfg.Source.Driver,
		DSN:         dsn,
		PingTimeout: cfg.Source.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Source.Schema != "" {
		logger.Info("Connected to %s source (schema %s)", cfg.Source.Driver, cfg.Source.Schema)
	} else {
		logger.Info("Connected to %s source", cfg.Source.Driver)
	}

	var src datasource.Source = datasource.NewSQLSource(db, cfg.Source.Schema, cfg.Source.QueryTimeout)
	src = datasource.NewGuarded(src, datasource.GuardConfig{
		Name:                       "upstream",
		MaxRetries:                 cfg.Source.MaxRetries,
		RetryDelayBase:             cfg.Source.RetryDelayBase,
		RateLimit:                  cfg.Source.RateLimit,
		Burst:                      cfg.Source.Burst,
		BreakerMaxRequests:         cfg.Source.Breaker.MaxRequests,
		BreakerInterval:            cfg.Source.Breaker.Interval,
		BreakerTimeout:             cfg.Source.Breaker.Timeout,
		BreakerConsecutiveFailures: cfg.Source.Breaker.ConsecutiveFailures,
	}, a.metrics)

	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis at %s unreachable, continuing without a warm cache: %v", cfg.Cache.Addr, err)
		}
		src = datasource.NewCached(src, rdb, cfg.Cache.TTL, cfg.Cache.KeyPrefix, a.metrics)
		logger.Debug("Redis cache enabled at %s (ttl %v)", cfg.Cache.Addr, cfg.Cache.TTL)
	}
	return src, nil
}

// loadFixture reads observations from a JSON file instead of the database.
func loadFixture(path string) (datasource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	src, err := datasource.LoadStatic(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("Using offline fixture %s", path)
	return src, nil
}

func pipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	window, err := cfg.AnalysisWindow()
	if err != nil {
		return pipeline.Config{}, err
	}
	insts, err := cfg.InstrumentList()
	if err != nil {
		return pipeline.Config{}, err
	}
	pairs, err := cfg.Pairs()
	if err != nil {
		return pipeline.Config{}, err
	}
	policy, err := contracts.ParsePolicy(cfg.Analysis.RolePolicy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Window:      window,
		Instruments: insts,
		CrossPairs:  pairs,
		Policy:      policy,
		Parallelism: cfg.Analysis.Parallelism,
	}, nil
}

// deliver saves the reports and, when enabled, sends the chat summary.
// Delivery failures are logged, never returned.
func (a *app) deliver(ctx context.Context, run *models.Run) {
	paths, err := a.writer.Save(run)
	if err != nil {
		logger.Error("Failed to save report: %v", err)
	}
	for _, p := range paths {
		logger.Info("Report written to %s", p)
	}

	if a.telegram == nil {
		return
	}
	if err := a.telegram.Send(ctx, run); err != nil {
		logger.Warn("Failed to send Telegram summary: %v", err)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("Failed to close resource: %v", err)
		}
	}
	a.closers = nil
}
