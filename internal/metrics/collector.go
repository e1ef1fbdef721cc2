// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records HTTP, ingestion, tokenizer, and database metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	batchSize        prometheus.Histogram
	batchErrors      prometheus.Counter
	implicitTraces   prometheus.Counter
	tokenizerCalls   *prometheus.CounterVec
	modelMatchTotal  *prometheus.CounterVec
	registryCacheHit *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. Passing
// prometheus.DefaultRegisterer wires it to the default /metrics output.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.eventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Total number of ingestion events processed",
		},
		[]string{"kind", "status"}, // status: ok, validation, not_found, cross_tenant, upstream, internal
	)

	c.eventDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_event_duration_seconds",
			Help:      "End-to-end duration of one event through normalize and reconcile",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind"},
	)

	c.batchSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_size",
			Help:      "Number of envelopes per ingestion batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	c.batchErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batch_errors_total",
			Help:      "Total number of per-event errors reported in multi-status responses",
		},
	)

	c.implicitTraces = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_implicit_traces_total",
			Help:      "Traces synthesized from dangling observation or score references",
		},
	)

	c.tokenizerCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokenizer_calls_total",
			Help:      "Tokenizer invocations for derived usage counts",
		},
		[]string{"tokenizer", "direction"}, // direction: prompt, completion
	)

	c.modelMatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_match_total",
			Help:      "Model registry match attempts",
		},
		[]string{"outcome"}, // outcome: matched, unmatched
	)

	c.registryCacheHit = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_registry_cache_total",
			Help:      "Model registry cache lookups",
		},
		[]string{"outcome"}, // outcome: hit, miss
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordEvent records the outcome of one ingestion event.
func (c *Collector) RecordEvent(kind, status string, duration time.Duration) {
	c.eventsTotal.WithLabelValues(kind, status).Inc()
	c.eventDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBatch records one dispatched batch.
func (c *Collector) RecordBatch(size, errors int) {
	c.batchSize.Observe(float64(size))
	c.batchErrors.Add(float64(errors))
}

// RecordImplicitTrace counts a synthesized trace row.
func (c *Collector) RecordImplicitTrace() {
	c.implicitTraces.Inc()
}

// RecordTokenizerCall counts one tokenizer invocation.
func (c *Collector) RecordTokenizerCall(tokenizer, direction string) {
	c.tokenizerCalls.WithLabelValues(tokenizer, direction).Inc()
}

// RecordModelMatch counts one registry match attempt.
func (c *Collector) RecordModelMatch(matched bool) {
	outcome := "unmatched"
	if matched {
		outcome = "matched"
	}
	c.modelMatchTotal.WithLabelValues(outcome).Inc()
}

// RecordRegistryCache counts one registry cache lookup.
func (c *Collector) RecordRegistryCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.registryCacheHit.WithLabelValues(outcome).Inc()
}

// RecordDBConnections records gateway connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one gateway query.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
