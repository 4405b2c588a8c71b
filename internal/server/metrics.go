// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label names and values shared across registrations.
const (
	// labelHandler is the label name under which metrics carry the registered
	// route pattern rather than the raw URL path.
	labelHandler = "handler"

	// outcomeOK and outcomeError partition job and query counters.
	outcomeOK    = "ok"
	outcomeError = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// ingestJobsTotal counts completed upload-triggered ingestion jobs,
	// partitioned by outcome: "ok" or "error".
	ingestJobsTotal *prometheus.CounterVec

	// ingestQueueDepth reports the number of ingestion jobs waiting for a
	// worker, sampled from the pool at scrape time.
	ingestQueueDepth prometheus.GaugeFunc

	// queryRequestsTotal counts completed similarity queries, partitioned by
	// outcome: "ok" or "error".
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of similarity
	// queries, including store hydration and audit logging.
	queryDurationSeconds prometheus.Histogram
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic. queued samples the worker pool's queue
// depth at scrape time.
func newServerMetrics(reg prometheus.Registerer, queued func() int) *serverMetrics {
	factory := promauto.With(reg)

	if queued == nil {
		queued = func() int { return 0 }
	}

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		ingestJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Total number of upload-triggered ingestion jobs completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestQueueDepth: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Number of ingestion jobs waiting for a worker.",
		}, func() float64 { return float64(queued()) }),

		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of similarity queries completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of similarity queries, including hydration and audit logging.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

// observeJob records the outcome of one completed ingestion job.
func (m *serverMetrics) observeJob(err error) {
	if err != nil {
		m.ingestJobsTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	m.ingestJobsTotal.WithLabelValues(outcomeOK).Inc()
}

// observeQuery records the outcome and duration of one similarity query.
func (m *serverMetrics) observeQuery(err error, seconds float64) {
	if err != nil {
		m.queryRequestsTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	m.queryRequestsTotal.WithLabelValues(outcomeOK).Inc()
	m.queryDurationSeconds.Observe(seconds)
}
