package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCounters(t *testing.T) {
	m := New()

	m.RecordFetched("CL", 12)
	m.RecordFetched("CL", 3)
	m.RecordSourceError("YM")
	m.RecordRetry("YM")
	m.RecordRetry("YM")
	m.RecordBreakerState("wrds", 2)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.ObservationsFetched.WithLabelValues("CL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceErrors.WithLabelValues("YM")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourceRetries.WithLabelValues("YM")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("wrds")))
}

func TestCacheHitRatio(t *testing.T) {
	m := New()

	m.RecordCacheLookup(CacheHit)
	m.RecordCacheLookup(CacheMiss)
	m.RecordCacheLookup(CacheHit)
	m.RecordCacheLookup(CacheError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(CacheHit)))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.CacheHitRatio), 1e-9)
}

func TestStepTimer(t *testing.T) {
	m := New()

	m.StartStep("fetch").Stop("ok")
	m.StartStep("fetch").Stop("error")

	assert.Equal(t, 2, testutil.CollectAndCount(m.StepDuration))
}

func TestRecordRun(t *testing.T) {
	m := New()
	finished := time.Unix(1766102400, 0)

	m.RecordRun("ok", finished)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
	assert.Equal(t, 1766102400.0, testutil.ToFloat64(m.LastRunTimestamp))
}

func TestNilRegistry(t *testing.T) {
	var m *Registry

	assert.NotPanics(t, func() {
		m.RecordFetched("CL", 1)
		m.RecordSourceError("CL")
		m.RecordRetry("CL")
		m.RecordBreakerState("wrds", 0)
		m.RecordCacheLookup(CacheHit)
		m.RecordRun("ok", time.Now())
		m.StartStep("fetch").Stop("ok")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordFetched("HO", 4)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `calspread_observations_fetched_total{instrument="HO"} 4`))
}
