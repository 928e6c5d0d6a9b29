// Package metrics exposes Prometheus instrumentation for analyses, provider
// attempts, ingestion, the HTTP surface and the batch queue.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/retry"
)

// Collector owns every metric of the process. It implements retry.Recorder.
type Collector struct {
	registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	backoffSeconds  *prometheus.CounterVec

	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec

	ingestDocuments prometheus.Counter
	ingestBytes     prometheus.Counter
	ingestFailures  prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	jobsTotal  *prometheus.CounterVec
	queueDepth prometheus.Gauge

	logger *zap.Logger
}

var _ retry.Recorder = (*Collector)(nil)

// NewCollector registers all metrics on a fresh registry under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.attemptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_attempts_total",
			Help:      "Provider call attempts by outcome and error kind",
		},
		[]string{"provider", "variant", "outcome", "kind"},
	)
	c.attemptDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_attempt_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "variant"},
	)
	c.backoffSeconds = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_backoff_seconds_total",
			Help:      "Total time scheduled for backoff between attempts",
		},
		[]string{"provider"},
	)

	c.analysesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Structured analyses by final status",
		},
		[]string{"status"},
	)
	c.analysisDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analysis duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	c.ingestDocuments = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_documents_total",
		Help:      "Documents read successfully",
	})
	c.ingestBytes = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_bytes_total",
		Help:      "Bytes read from documents",
	})
	c.ingestFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_failures_total",
		Help:      "Ingest calls that failed",
	})

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.jobsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Batch jobs by final status",
		},
		[]string{"status"},
	)
	c.queueDepth = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_queue_depth",
		Help:      "Jobs waiting in the batch queue",
	})

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveAttempt(rec retry.AttemptRecord) {
	kind := "none"
	if rec.Outcome.Status() != constants.AttemptSuccess {
		kind = rec.Kind.String()
	}
	c.attemptsTotal.WithLabelValues(rec.Provider, rec.Variant, string(rec.Outcome.Status()), kind).Inc()
	c.attemptDuration.WithLabelValues(rec.Provider, rec.Variant).Observe(rec.Elapsed.Seconds())
}

func (c *Collector) ObserveBackoff(provider string, d time.Duration) {
	c.backoffSeconds.WithLabelValues(provider).Add(d.Seconds())
}

// ObserveAnalysis records one orchestrator call.
func (c *Collector) ObserveAnalysis(status constants.AnalysisStatus, d time.Duration) {
	c.analysesTotal.WithLabelValues(string(status)).Inc()
	c.analysisDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveIngest records one ingest call.
func (c *Collector) ObserveIngest(documents int, bytes int64, err error) {
	if err != nil {
		c.ingestFailures.Inc()
		return
	}
	c.ingestDocuments.Add(float64(documents))
	c.ingestBytes.Add(float64(bytes))
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) ObserveJob(status string) {
	c.jobsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}
