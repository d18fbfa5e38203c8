package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/metrics"
	"github.com/rewired-gh/calspread/internal/models"
)

// GuardConfig configures a Guarded source.
type GuardConfig struct {
	Name           string
	MaxRetries     int
	RetryDelayBase time.Duration
	RateLimit      float64 // fetches per second
	Burst          int

	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32
}

// Guarded wraps a Source with a rate limiter, a circuit breaker and retries
// with linear backoff.
type Guarded struct {
	inner      Source
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	delay      time.Duration
	metrics    *metrics.Registry
}

// NewGuarded creates a Guarded source. m may be nil.
func NewGuarded(inner Source, cfg GuardConfig, m *metrics.Registry) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "source"
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	failures := cfg.BreakerConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= failures
	}
	st.IsSuccessful = func(err error) bool {
		// caller cancellation says nothing about upstream health
		return err == nil || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
		m.RecordBreakerState(name, breakerGauge(to))
	}

	m.RecordBreakerState(cfg.Name, breakerGauge(gobreaker.StateClosed))

	return &Guarded{
		inner:      inner,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
		maxRetries: cfg.MaxRetries,
		delay:      cfg.RetryDelayBase,
		metrics:    m,
	}
}

func breakerGauge(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State returns the current breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

// Fetch implements Source.
func (g *Guarded) Fetch(ctx context.Context, inst models.Instrument, start, end time.Time) ([]models.Observation, error) {
	var lastErr error

	for i := 0; i < g.maxRetries; i++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		res, err := g.breaker.Execute(func() (interface{}, error) {
			return g.inner.Fetch(ctx, inst, start, end)
		})
		if err == nil {
			obs, _ := res.([]models.Observation)
			return obs, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !retryable(ctx, err) {
			return nil, err
		}

		lastErr = err
		if i == g.maxRetries-1 {
			break
		}

		g.metrics.RecordRetry(string(inst))
		wait := time.Duration(i+1) * g.delay
		logger.Warn("%s: fetch attempt %d/%d failed, retrying in %v: %v", inst, i+1, g.maxRetries, wait, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, models.ErrUnknownInstrument) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
