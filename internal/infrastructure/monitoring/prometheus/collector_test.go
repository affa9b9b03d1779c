package prometheus

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "abx"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNewMetricsCollector_RequiresNamespace(t *testing.T) {
	t.Parallel()

	_, err := NewMetricsCollector(CollectorConfig{}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestRegisterCounter_IncrementVisibleInHandler(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	counter := c.RegisterCounter("assignments_total", "Assignments", "experiment_id")
	counter.WithLabelValues("exp-1").Inc()
	counter.WithLabelValues("exp-1").Add(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `abx_assignments_total{experiment_id="exp-1"} 3`)
}

func TestRegister_DuplicateNameReturnsSameVector(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	first := c.RegisterCounter("requests_total", "Requests", "path")
	second := c.RegisterCounter("requests_total", "Requests", "path")

	first.WithLabelValues("/a").Inc()
	second.WithLabelValues("/a").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `abx_requests_total{path="/a"} 2`)
}

func TestRegisterGauge_SetAndDec(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	gauge := c.RegisterGauge("experiments_by_status", "Experiments", "status")
	gauge.WithLabelValues("running").Set(5)
	gauge.WithLabelValues("running").Dec()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `abx_experiments_by_status{status="running"} 4`)
}

func TestRegisterHistogram_DefaultBuckets(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	hist := c.RegisterHistogram("assignment_duration_seconds", "Latency", nil, "experiment_id")
	hist.WithLabelValues("exp-1").Observe(0.02)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "abx_assignment_duration_seconds_count")
}

func TestTimer_ObservesElapsed(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	hist := c.RegisterHistogram("op_duration_seconds", "Op duration", nil, "op")

	timer := NewTimer(hist.WithLabelValues("analyze"))
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `abx_op_duration_seconds_count{op="analyze"} 1`)
}

func TestTimer_NilHistogramIsSafe(t *testing.T) {
	t.Parallel()

	timer := NewTimer(nil)
	assert.NotPanics(t, timer.ObserveDuration)
}
