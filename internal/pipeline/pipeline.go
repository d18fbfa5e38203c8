// Package pipeline runs one full calendar-spread analysis: fetch every
// instrument, build its front/second spread, characterize it, then correlate
// the configured pairs.
//
// Upstream failures never abort a run. The failing instrument is analyzed as
// if it had no data (every statistic undefined) and the failure is recorded on
// the Run. Only an invalid configuration or a cancelled context is fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/calspread/internal/analysis"
	"github.com/rewired-gh/calspread/internal/contracts"
	"github.com/rewired-gh/calspread/internal/datasource"
	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/metrics"
	"github.com/rewired-gh/calspread/internal/models"
	"github.com/rewired-gh/calspread/internal/series"
)

// Config is everything a Runner needs besides its source.
type Config struct {
	Window      models.AnalysisWindow
	Instruments []models.Instrument
	CrossPairs  [][2]models.Instrument
	Policy      contracts.Policy
	Parallelism int
}

// Validate checks the run configuration.
func (c Config) Validate() error {
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if len(c.Window.Windows) == 0 {
		return fmt.Errorf("%w: at least one window length is required", models.ErrInvalidWindow)
	}
	if len(c.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	known := make(map[models.Instrument]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if !inst.Valid() {
			return fmt.Errorf("%w: %s", models.ErrUnknownInstrument, inst)
		}
		known[inst] = true
	}
	for _, p := range c.CrossPairs {
		if !known[p[0]] || !known[p[1]] {
			return fmt.Errorf("cross pair %s/%s is not among the configured instruments", p[0], p[1])
		}
	}
	if _, err := contracts.ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// Runner executes analysis runs. It is safe for concurrent use; the latest
// completed Run is kept for Latest.
type Runner struct {
	source  datasource.Source
	cfg     Config
	metrics *metrics.Registry
	now     func() time.Time

	mu     sync.RWMutex
	latest *models.Run
}

// New creates a Runner. m may be nil.
func New(source datasource.Source, cfg Config, m *metrics.Registry) (*Runner, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.Policy == "" {
		cfg.Policy = contracts.PolicyExpiration
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}
	return &Runner{source: source, cfg: cfg, metrics: m, now: time.Now}, nil
}

// Latest returns the most recent completed Run, or nil.
func (r *Runner) Latest() *models.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Run performs one analysis over every configured instrument and pair.
func (r *Runner) Run(ctx context.Context) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.New().String(),
		StartedAt: r.now().UTC(),
		Window:    r.cfg.Window,
	}
	logger.Info("run %s: analyzing %d instruments from %s to %s", run.ID, len(r.cfg.Instruments),
		r.cfg.Window.Start.Format(models.DateLayout), r.cfg.Window.End.Format(models.DateLayout))

	results := make([]models.AnalysisResult, len(r.cfg.Instruments))
	failures := make([]*models.SourceFailure, len(r.cfg.Instruments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, inst := range r.cfg.Instruments {
		g.Go(func() error {
			res, failure, err := r.analyzeInstrument(gctx, inst)
			if err != nil {
				return fmt.Errorf("%s: %w", inst, err)
			}
			results[i] = res
			failures[i] = failure
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.metrics.RecordRun("error", r.now())
		return nil, err
	}

	run.Results = results
	for _, f := range failures {
		if f != nil {
			run.Failures = append(run.Failures, *f)
		}
	}

	timer := r.metrics.StartStep("cross")
	for _, p := range r.cfg.CrossPairs {
		left, _ := run.Result(p[0])
		right, _ := run.Result(p[1])
		cross, err := analysis.CrossAnalyze(left.Spread, right.Spread, r.cfg.Window.Windows)
		if err != nil {
			timer.Stop("error")
			r.metrics.RecordRun("error", r.now())
			return nil, fmt.Errorf("cross %s/%s: %w", p[0], p[1], err)
		}
		// labels stay meaningful when a side has no spread
		cross.Left, cross.Right = p[0].SpreadLabel(), p[1].SpreadLabel()
		run.Cross = append(run.Cross, cross)
	}
	timer.Stop("ok")

	run.FinishedAt = r.now().UTC()
	status := "ok"
	if len(run.Failures) > 0 {
		status = "partial"
	}
	r.metrics.RecordRun(status, run.FinishedAt)
	logger.Info("run %s: finished in %v with %d failures", run.ID, run.FinishedAt.Sub(run.StartedAt), len(run.Failures))

	r.mu.Lock()
	r.latest = run
	r.mu.Unlock()

	return run, nil
}

// analyzeInstrument fetches and analyzes one instrument. A source failure is
// returned as a SourceFailure, not an error.
func (r *Runner) analyzeInstrument(ctx context.Context, inst models.Instrument) (models.AnalysisResult, *models.SourceFailure, error) {
	w := r.cfg.Window
	label := inst.SpreadLabel()

	var failure *models.SourceFailure
	timer := r.metrics.StartStep("fetch")
	obs, err := r.source.Fetch(ctx, inst, w.Start, w.End)
	if err != nil {
		timer.Stop("error")
		if ctx.Err() != nil {
			return models.AnalysisResult{}, nil, ctx.Err()
		}
		logger.Warn("%s: fetch failed, treating as missing data: %v", inst, err)
		r.metrics.RecordSourceError(string(inst))
		failure = &models.SourceFailure{Instrument: inst, Error: err.Error()}
		obs = nil
	} else {
		timer.Stop("ok")
	}
	r.metrics.RecordFetched(string(inst), len(obs))

	timer = r.metrics.StartStep("spread")
	spread, roles, err := r.buildSpread(inst, obs)
	if err != nil {
		timer.Stop("error")
		return models.AnalysisResult{}, nil, err
	}
	timer.Stop("ok")

	timer = r.metrics.StartStep("analyze")
	result, err := analysis.Analyze(label, spread, w.Windows)
	if err != nil {
		timer.Stop("error")
		return models.AnalysisResult{}, nil, err
	}
	timer.Stop("ok")

	result.Instrument = inst
	result.FrontContract = roles.Front
	result.SecondContract = roles.Second

	if spread == nil {
		logger.Warn("%s: no spread available (%d observations, front=%q second=%q)", inst, len(obs), roles.Front, roles.Second)
	} else {
		logger.Info("%s: front=%s second=%s, %d of %d days defined", inst, roles.Front, roles.Second,
			spread.ValidCount(), spread.Len())
	}

	return result, failure, nil
}

func (r *Runner) buildSpread(inst models.Instrument, obs []models.Observation) (*models.Series, contracts.Roles, error) {
	w := r.cfg.Window

	roles, err := contracts.ResolveRoles(obs, r.cfg.Policy)
	if err != nil {
		return nil, contracts.Roles{}, err
	}
	if roles.Swapped {
		logger.Debug("%s: densest contract %s expires after %s, using it as second month", inst, roles.Second, roles.Front)
	}
	if roles.Front == "" || roles.Second == "" {
		return nil, roles, nil
	}

	front, err := series.Align(fmt.Sprintf("%s %s", inst, roles.Front), contracts.ForContract(obs, roles.Front), w.Start, w.End)
	if err != nil {
		return nil, roles, err
	}
	second, err := series.Align(fmt.Sprintf("%s %s", inst, roles.Second), contracts.ForContract(obs, roles.Second), w.Start, w.End)
	if err != nil {
		return nil, roles, err
	}

	spread, err := series.BuildSpread(inst.SpreadLabel(), second, front)
	if err != nil {
		return nil, roles, err
	}
	return spread, roles, nil
}
