// Package metrics holds the Prometheus instruments for analysis runs.
// All Record methods are safe on a nil *Registry, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/rewired-gh/calspread/internal/logger"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Registry holds every metric exported by calspread.
type Registry struct {
	reg *prometheus.Registry

	StepDuration        *prometheus.HistogramVec
	ObservationsFetched *prometheus.CounterVec
	SourceErrors        *prometheus.CounterVec
	SourceRetries       *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	CacheLookups        *prometheus.CounterVec
	CacheHitRatio       prometheus.Gauge
	Runs                *prometheus.CounterVec
	LastRunTimestamp    prometheus.Gauge
}

// New creates a Registry backed by its own prometheus.Registry.
func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calspread_step_duration_seconds",
				Help:    "Duration of each analysis step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"step", "result"},
		),
		ObservationsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calspread_observations_fetched_total",
				Help: "Observations returned by the upstream source per instrument",
			},
			[]string{"instrument"},
		),
		SourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calspread_source_errors_total",
				Help: "Upstream fetches that failed and were treated as missing data",
			},
			[]string{"instrument"},
		),
		SourceRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calspread_source_retries_total",
				Help: "Upstream fetch attempts retried after a transient error",
			},
			[]string{"instrument"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "calspread_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calspread_cache_lookups_total",
				Help: "Observation cache lookups by result",
			},
			[]string{"result"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calspread_cache_hit_ratio",
				Help: "Observation cache hit ratio (0.0 to 1.0)",
			},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calspread_runs_total",
				Help: "Completed analysis runs by status",
			},
			[]string{"status"},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calspread_last_run_timestamp_seconds",
				Help: "Unix time the last analysis run finished",
			},
		),
	}

	m.reg.MustRegister(
		m.StepDuration,
		m.ObservationsFetched,
		m.SourceErrors,
		m.SourceRetries,
		m.BreakerState,
		m.CacheLookups,
		m.CacheHitRatio,
		m.Runs,
		m.LastRunTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Gatherer exposes the underlying registry, mostly for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// StepTimer measures one analysis step.
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStep begins timing a step. Safe on a nil Registry.
func (m *Registry) StartStep(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop records the step duration under result ("ok" or "error").
func (st *StepTimer) Stop(result string) time.Duration {
	d := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(d.Seconds())
	}
	logger.Debug("step %s finished in %v (%s)", st.step, d, result)
	return d
}

// RecordFetched counts observations returned for an instrument.
func (m *Registry) RecordFetched(instrument string, n int) {
	if m == nil {
		return
	}
	m.ObservationsFetched.WithLabelValues(instrument).Add(float64(n))
}

// RecordSourceError counts an upstream failure for an instrument.
func (m *Registry) RecordSourceError(instrument string) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(instrument).Inc()
}

// RecordRetry counts a retried upstream attempt.
func (m *Registry) RecordRetry(instrument string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(instrument).Inc()
}

// RecordBreakerState sets the breaker gauge (0=closed, 1=half-open, 2=open).
func (m *Registry) RecordBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCacheLookup counts a cache lookup and refreshes the hit ratio.
func (m *Registry) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
	m.updateCacheHitRatio()
}

// RecordRun counts a finished run.
func (m *Registry) RecordRun(status string, finished time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.LastRunTimestamp.Set(float64(finished.Unix()))
}

func (m *Registry) updateCacheHitRatio() {
	hits := counterValue(m.CacheLookups, CacheHit)
	total := hits + counterValue(m.CacheLookups, CacheMiss) + counterValue(m.CacheLookups, CacheError)
	if total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, label string) float64 {
	c, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
