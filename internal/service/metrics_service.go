package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot lookup outcomes.
const (
	LookupHitMemory  = "hit_memory"
	LookupHitBackend = "hit_backend"
	LookupMiss       = "miss"
	LookupExpired    = "expired"
	LookupDegraded   = "degraded"
)

// SystemMetrics is a point-in-time summary served on the admin metrics route.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	SnapshotWriteFailures    uint64    `json:"snapshotWriteFailures"`
	AccessDenied             uint64    `json:"accessDenied"`
	ConsolidationRuns        uint64    `json:"consolidationRuns"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	snapshotLookups      *prometheus.CounterVec
	snapshotWriteErrors  prometheus.Counter
	snapshotsInMemory    prometheus.Gauge
	accessDenied         prometheus.Counter
	batchesReceived      *prometheus.CounterVec
	consolidationOutcome *prometheus.CounterVec
	consolidationSeconds prometheus.Histogram

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	writeFailureCount    uint64
	accessDeniedCount    uint64
	consolidationCount   uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	snapshotLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_snapshot_lookups_total",
		Help: "Snapshot store lookups by outcome",
	}, []string{"outcome"})

	snapshotWriteErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_snapshot_write_failures_total",
		Help: "Durable snapshot writes that failed after retries",
	})

	snapshotsInMemory := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "review_snapshots_in_memory",
		Help: "Snapshots held by the in-memory mirror",
	})

	accessDenied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_access_denied_total",
		Help: "Capability token verifications that failed",
	})

	batchesReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_batches_received_total",
		Help: "Reviewer batches received by outcome",
	}, []string{"outcome"})

	consolidationOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_consolidation_records_total",
		Help: "Records folded by consolidation, by outcome",
	}, []string{"outcome"})

	consolidationSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "review_consolidation_duration_seconds",
		Help:    "Duration of consolidation runs",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration, snapshotLookups, snapshotWriteErrors, snapshotsInMemory, accessDenied,
		batchesReceived, consolidationOutcome, consolidationSeconds, goroutines,
	)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		dbQueryDuration:      dbQueryDuration,
		snapshotLookups:      snapshotLookups,
		snapshotWriteErrors:  snapshotWriteErrors,
		snapshotsInMemory:    snapshotsInMemory,
		accessDenied:         accessDenied,
		batchesReceived:      batchesReceived,
		consolidationOutcome: consolidationOutcome,
		consolidationSeconds: consolidationSeconds,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordSnapshotLookup counts a snapshot store lookup outcome.
func (m *MetricsService) RecordSnapshotLookup(outcome string) {
	if m == nil {
		return
	}
	m.snapshotLookups.WithLabelValues(outcome).Inc()
}

// RecordSnapshotWriteFailure counts a durable write that exhausted retries.
func (m *MetricsService) RecordSnapshotWriteFailure() {
	if m == nil {
		return
	}
	m.snapshotWriteErrors.Inc()
	atomic.AddUint64(&m.writeFailureCount, 1)
}

// SetSnapshotsInMemory reports the mirror size.
func (m *MetricsService) SetSnapshotsInMemory(n int) {
	if m == nil {
		return
	}
	m.snapshotsInMemory.Set(float64(n))
}

// RecordAccessDenied counts a failed capability token verification.
func (m *MetricsService) RecordAccessDenied() {
	if m == nil {
		return
	}
	m.accessDenied.Inc()
	atomic.AddUint64(&m.accessDeniedCount, 1)
}

// RecordBatch counts a received batch by outcome (accepted, duplicate, rejected).
func (m *MetricsService) RecordBatch(outcome string) {
	if m == nil {
		return
	}
	m.batchesReceived.WithLabelValues(outcome).Inc()
}

// RecordConsolidation records the totals of one consolidation run.
func (m *MetricsService) RecordConsolidation(applied, conflicts, stale int, duration time.Duration) {
	if m == nil {
		return
	}
	m.consolidationOutcome.WithLabelValues("applied").Add(float64(applied))
	m.consolidationOutcome.WithLabelValues("conflict").Add(float64(conflicts))
	m.consolidationOutcome.WithLabelValues("stale").Add(float64(stale))
	m.consolidationSeconds.Observe(duration.Seconds())
	atomic.AddUint64(&m.consolidationCount, 1)
}

// Snapshot returns the counters accumulated since start.
func (m *MetricsService) Snapshot() SystemMetrics {
	if m == nil {
		return SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		SnapshotWriteFailures:    atomic.LoadUint64(&m.writeFailureCount),
		AccessDenied:             atomic.LoadUint64(&m.accessDeniedCount),
		ConsolidationRuns:        atomic.LoadUint64(&m.consolidationCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
