// Package metrics provides Prometheus metrics for the stakerank leaderboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every metric the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Ingestion
	syncBatches     *prometheus.CounterVec
	recordsMerged   prometheus.Counter
	mergeFailures   prometheus.Counter
	syncRejected    *prometheus.CounterVec
	mergeLatency    prometheus.Histogram
	entriesByType   *prometheus.GaugeVec
	lastSyncUnix    prometheus.Gauge
	queryLatency    prometheus.Histogram
	queryResultSize prometheus.Histogram

	// Rank engine
	recomputes          *prometheus.CounterVec
	recomputeFailures   *prometheus.CounterVec
	recomputeDuration   *prometheus.HistogramVec
	recomputeLockWait   *prometheus.HistogramVec
	recomputeRetries    prometheus.Counter
	recomputeCoalesced  prometheus.Counter
	lastRecomputeByType *prometheus.GaugeVec

	// Recompute queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByType        *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps the exposition free of default process collectors
// unless main registers them explicitly.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "stakerank",
		subsystem:        "leaderboard",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.syncBatches = m.counterVec("sync_batches_total", "Stat batches received, by outcome", "outcome")
	m.recordsMerged = m.counter("records_merged_total", "Records upserted into the entity store")
	m.mergeFailures = m.counter("merge_failures_total", "Batches whose merge step failed")
	m.syncRejected = m.counterVec("sync_rejected_total", "Batches rejected before any write, by reason", "reason")
	m.mergeLatency = m.histogram("merge_latency_milliseconds", "Latency of the batch merge step")
	m.entriesByType = m.gaugeVec("entries", "Entries tracked per type", "type")
	m.lastSyncUnix = m.gauge("last_sync_unixtime", "Unix time of the last successful merge")
	m.queryLatency = m.histogram("query_latency_milliseconds", "Latency of leaderboard page reads (page + count)")
	m.queryResultSize = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "query_result_entries",
		Help:    "Entries returned per leaderboard page",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})

	m.recomputes = m.counterVec("recomputes_total", "Successful rank recomputations per type", "type")
	m.recomputeFailures = m.counterVec("recompute_failures_total", "Failed rank recomputations per type", "type")
	m.recomputeDuration = m.histogramVec("recompute_duration_milliseconds", "Rank recomputation duration per type", "type")
	m.recomputeLockWait = m.histogramVec("recompute_lock_wait_milliseconds", "Time spent waiting for the per-type recompute lock", "type")
	m.recomputeRetries = m.counter("recompute_retries_total", "Background recompute attempts after a failure")
	m.recomputeCoalesced = m.counter("recompute_coalesced_total", "Recompute requests dropped because one was already pending")
	m.lastRecomputeByType = m.gaugeVec("last_recompute_unixtime", "Unix time of the last successful recomputation", "type")

	m.queueSize = m.gauge("recompute_queue_size", "Pending background recompute requests")
	m.queueCapacity = m.gauge("recompute_queue_capacity", "Capacity of the background recompute queue")
	m.queueEnqueued = m.counter("recompute_queue_enqueued_total", "Recompute requests enqueued")
	m.queueDequeued = m.counter("recompute_queue_dequeued_total", "Recompute requests dequeued")
	m.queueEnqueueErrors = m.counterVec("recompute_queue_enqueue_errors_total", "Recompute requests not enqueued, by reason", "reason")
	m.workerCount = m.gauge("recompute_workers", "Background recompute workers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
	m.errorsByType = m.counterVec("errors_total", "Errors by type and severity", "error_type", "severity")
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// Ingestion.

func RecordSyncBatch(outcome string) {
	if globalManager.enabled {
		globalManager.syncBatches.WithLabelValues(outcome).Inc()
	}
}

func RecordRecordsMerged(n int) {
	if globalManager.enabled && n > 0 {
		globalManager.recordsMerged.Add(float64(n))
	}
}

func RecordMergeFailure() {
	if globalManager.enabled {
		globalManager.mergeFailures.Inc()
	}
}

func RecordSyncRejected(reason string) {
	if globalManager.enabled {
		globalManager.syncRejected.WithLabelValues(reason).Inc()
	}
}

func RecordMergeLatency(ms float64) {
	if globalManager.enabled {
		globalManager.mergeLatency.Observe(ms)
	}
}

func UpdateEntries(entryType string, n int) {
	if globalManager.enabled {
		globalManager.entriesByType.WithLabelValues(entryType).Set(float64(n))
	}
}

func UpdateLastSync(unix int64) {
	if globalManager.enabled {
		globalManager.lastSyncUnix.Set(float64(unix))
	}
}

func RecordQueryLatency(ms float64) {
	if globalManager.enabled {
		globalManager.queryLatency.Observe(ms)
	}
}

func RecordQueryResultSize(n int) {
	if globalManager.enabled {
		globalManager.queryResultSize.Observe(float64(n))
	}
}

// Rank engine.

func RecordRecompute(entryType string, durationMs float64, finishedUnix int64) {
	if globalManager.enabled {
		globalManager.recomputes.WithLabelValues(entryType).Inc()
		globalManager.recomputeDuration.WithLabelValues(entryType).Observe(durationMs)
		globalManager.lastRecomputeByType.WithLabelValues(entryType).Set(float64(finishedUnix))
	}
}

func RecordRecomputeFailure(entryType string) {
	if globalManager.enabled {
		globalManager.recomputeFailures.WithLabelValues(entryType).Inc()
	}
}

func RecordRecomputeLockWait(entryType string, ms float64) {
	if globalManager.enabled {
		globalManager.recomputeLockWait.WithLabelValues(entryType).Observe(ms)
	}
}

func RecordRecomputeRetry() {
	if globalManager.enabled {
		globalManager.recomputeRetries.Inc()
	}
}

func RecordRecomputeCoalesced() {
	if globalManager.enabled {
		globalManager.recomputeCoalesced.Inc()
	}
}

// Queue and workers.

func UpdateQueueSize(n int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(n))
	}
}

func UpdateQueueCapacity(n int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(n))
	}
}

func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueued.Inc()
	}
}

func RecordQueueDequeue() {
	if globalManager.enabled {
		globalManager.queueDequeued.Inc()
	}
}

func RecordQueueEnqueueError(reason string) {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
	}
}

func UpdateWorkerCount(n int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(n))
	}
}

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

func RecordErrorByType(errorType, severity string) {
	if globalManager.enabled {
		globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
	}
}
