package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds the engine's application metrics.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Experiment lifecycle
	ExperimentsByStatus GaugeVec
	LifecycleTotal      CounterVec

	// Traffic
	AssignmentsTotal    CounterVec
	ConversionsTotal    CounterVec
	ConversionValue     CounterVec
	AssignmentDuration  HistogramVec

	// Analysis
	ResultsComputed     HistogramVec
	WinnersDeclared     CounterVec

	// Infrastructure
	DBQueryDuration  HistogramVec
	CacheHitsTotal   CounterVec
	CacheMissesTotal CounterVec
	EventsPublished  CounterVec
	SweepRuns        CounterVec

	// System health
	HealthCheckStatus GaugeVec
}

var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultDBDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers the full metric set against the collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	m.ExperimentsByStatus = collector.RegisterGauge("experiments_by_status", "Experiments per lifecycle status", "status")
	m.LifecycleTotal = collector.RegisterCounter("experiment_lifecycle_total", "Lifecycle transitions", "from", "to")

	m.AssignmentsTotal = collector.RegisterCounter("assignments_total", "Variant assignments", "experiment_id", "sticky")
	m.ConversionsTotal = collector.RegisterCounter("conversions_total", "Conversion events", "experiment_id", "event")
	m.ConversionValue = collector.RegisterCounter("conversion_value_total", "Accumulated conversion value", "experiment_id")
	m.AssignmentDuration = collector.RegisterHistogram("assignment_duration_seconds", "Assignment latency", DefaultHTTPDurationBuckets, "experiment_id")

	m.ResultsComputed = collector.RegisterHistogram("results_compute_duration_seconds", "Results computation duration", DefaultDBDurationBuckets, "cached")
	m.WinnersDeclared = collector.RegisterCounter("winners_declared_total", "Winner declarations", "mode")

	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.EventsPublished = collector.RegisterCounter("events_published_total", "Events published to Kafka", "topic", "status")
	m.SweepRuns = collector.RegisterCounter("sweep_runs_total", "Background sweep executions", "pass", "status")

	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")

	return m
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAssignment records one assignment, sticky or fresh.
func RecordAssignment(m *AppMetrics, experimentID string, sticky bool, duration time.Duration) {
	m.AssignmentsTotal.WithLabelValues(experimentID, strconv.FormatBool(sticky)).Inc()
	m.AssignmentDuration.WithLabelValues(experimentID).Observe(duration.Seconds())
}

// RecordConversion records one conversion event.
func RecordConversion(m *AppMetrics, experimentID, event string, value float64) {
	m.ConversionsTotal.WithLabelValues(experimentID, event).Inc()
	if value > 0 {
		m.ConversionValue.WithLabelValues(experimentID).Add(value)
	}
}

// RecordCacheAccess records a hit or miss for the named cache.
func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordSweepRun records one sweep pass execution.
func RecordSweepRun(m *AppMetrics, pass string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SweepRuns.WithLabelValues(pass, status).Inc()
}
