// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tubefetch"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Job metrics
	JobsCreated    prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsCancelled  prometheus.Counter
	JobsInProgress prometheus.Gauge
	JobDuration    prometheus.Histogram

	// Storage metrics
	CleanupJobsTotal  prometheus.Counter
	CleanupFilesTotal prometheus.Counter
	StoredJobsTotal   prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Fetcher metrics
	FetchAttempts *prometheus.CounterVec
	FetchRetries  prometheus.Counter
	FetchBytes    prometheus.Counter

	// Tool metrics
	ToolInstalls *prometheus.CounterVec

	// Info cache metrics
	InfoCacheLookups *prometheus.CounterVec

	// Subprocess metrics
	SubprocessRuns *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg.
// A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		// Job metrics
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of jobs created",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of jobs that failed",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "cancelled_total",
			Help:      "Total number of jobs stopped on request",
		}),
		JobsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_progress",
			Help:      "Number of jobs currently in progress",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Histogram of job duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Storage metrics
		CleanupJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_jobs_total",
			Help:      "Total number of expired jobs cleaned up",
		}),
		CleanupFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_files_total",
			Help:      "Total number of expired files cleaned up",
		}),
		StoredJobsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "jobs_current",
			Help:      "Current number of stored jobs",
		}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}, []string{"method", "path"}),

		// Fetcher metrics
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of fetch attempts by outcome",
		}, []string{"outcome"}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of scheduled fetch retries",
		}),
		FetchBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Total bytes written by the fetcher",
		}),

		// Tool metrics
		ToolInstalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "installs_total",
			Help:      "Total number of tool installs by outcome",
		}, []string{"tool", "outcome"}),

		// Info cache metrics
		InfoCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "infocache",
			Name:      "lookups_total",
			Help:      "Total number of describe lookups by result (hit, miss, shared)",
		}, []string{"result"}),

		// Subprocess metrics
		SubprocessRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subprocess",
			Name:      "runs_total",
			Help:      "Total number of subprocess runs by role and outcome",
		}, []string{"role", "outcome"}),
	}
}

// Handler returns the Prometheus HTTP handler for the registry the metrics were created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// JobTimer returns a function to record job duration.
func (m *Metrics) JobTimer() func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordJobCreated increments the jobs created counter.
func (m *Metrics) RecordJobCreated() {
	if m == nil {
		return
	}

	m.JobsCreated.Inc()
	m.JobsInProgress.Inc()
}

// RecordJobCompleted records a completed job.
func (m *Metrics) RecordJobCompleted() {
	if m == nil {
		return
	}

	m.JobsCompleted.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobFailed records a failed job.
func (m *Metrics) RecordJobFailed() {
	if m == nil {
		return
	}

	m.JobsFailed.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobCancelled records a job stopped on request.
func (m *Metrics) RecordJobCancelled() {
	if m == nil {
		return
	}

	m.JobsCancelled.Inc()
	m.JobsInProgress.Dec()
}

// RecordCleanup records cleanup metrics.
func (m *Metrics) RecordCleanup(jobs, files int) {
	if m == nil {
		return
	}

	m.CleanupJobsTotal.Add(float64(jobs))
	m.CleanupFilesTotal.Add(float64(files))
}

// SetStoredJobs sets the number of stored jobs.
func (m *Metrics) SetStoredJobs(count int) {
	if m == nil {
		return
	}

	m.StoredJobsTotal.Set(float64(count))
}

// RecordFetchAttempt records the outcome of one fetch attempt: ok, retry, failed or cancelled.
func (m *Metrics) RecordFetchAttempt(outcome string) {
	if m == nil {
		return
	}

	m.FetchAttempts.WithLabelValues(outcome).Inc()
}

// RecordFetchRetry records a scheduled retry.
func (m *Metrics) RecordFetchRetry() {
	if m == nil {
		return
	}

	m.FetchRetries.Inc()
}

// RecordFetchBytes adds to the fetched byte counter.
func (m *Metrics) RecordFetchBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.FetchBytes.Add(float64(n))
}

// RecordToolInstall records a tool install outcome.
func (m *Metrics) RecordToolInstall(tool, outcome string) {
	if m == nil {
		return
	}

	m.ToolInstalls.WithLabelValues(tool, outcome).Inc()
}

// RecordInfoCache records a describe lookup result.
func (m *Metrics) RecordInfoCache(result string) {
	if m == nil {
		return
	}

	m.InfoCacheLookups.WithLabelValues(result).Inc()
}

// RecordSubprocess records a finished subprocess.
func (m *Metrics) RecordSubprocess(role, outcome string) {
	if m == nil {
		return
	}

	m.SubprocessRuns.WithLabelValues(role, outcome).Inc()
}
