package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine
type Metrics struct {
	// Read path metrics
	CacheHitsTotal      prometheus.Counter
	CacheStaleHitsTotal prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	RevalidationsTotal  prometheus.Counter
	LocalRebuildsTotal  prometheus.Counter
	ReadFallbacksTotal  prometheus.Counter

	// Queue metrics
	QueueDepth           prometheus.Gauge
	QueueEnqueuesTotal   prometheus.Counter
	FlushRunsTotal       prometheus.Counter
	FlushJobsOKTotal     prometheus.Counter
	FlushJobsFailedTotal prometheus.Counter

	// Full sync metrics
	SyncTasksTotal      prometheus.Counter
	SyncTaskErrorsTotal prometheus.Counter
	SyncDuration        prometheus.Histogram

	// Transport metrics
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	InflightDedupTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics against reg.
// Tests pass a fresh registry so multiple engines can coexist.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of fresh cache hits",
		}),
		CacheStaleHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "cache",
			Name:      "stale_hits_total",
			Help:      "Total number of stale cache serves",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		RevalidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "cache",
			Name:      "revalidations_total",
			Help:      "Total number of background revalidation fetches",
		}),
		LocalRebuildsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "reads",
			Name:      "local_rebuilds_total",
			Help:      "Total number of reads served by derived-view reconstruction",
		}),
		ReadFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "reads",
			Name:      "fallbacks_total",
			Help:      "Total number of reads that fell back after a failed fetch",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rentwing",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of pending write jobs",
		}),
		QueueEnqueuesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "queue",
			Name:      "enqueues_total",
			Help:      "Total number of write jobs enqueued",
		}),
		FlushRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "queue",
			Name:      "flush_runs_total",
			Help:      "Total number of flush attempts",
		}),
		FlushJobsOKTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "queue",
			Name:      "flush_jobs_ok_total",
			Help:      "Total number of jobs delivered to the backend",
		}),
		FlushJobsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "queue",
			Name:      "flush_jobs_failed_total",
			Help:      "Total number of jobs whose delivery failed",
		}),
		SyncTasksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "sync",
			Name:      "tasks_total",
			Help:      "Total number of full-sync tasks executed",
		}),
		SyncTaskErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "sync",
			Name:      "task_errors_total",
			Help:      "Total number of full-sync tasks that failed or timed out",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rentwing",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Histogram of full-sync durations",
			Buckets:   prometheus.DefBuckets,
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Total number of backend requests by method and outcome",
		}, []string{"method", "outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rentwing",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Histogram of backend request durations",
			Buckets:   prometheus.DefBuckets,
		}),
		InflightDedupTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rentwing",
			Subsystem: "transport",
			Name:      "inflight_dedup_total",
			Help:      "Total number of GET calls coalesced onto an in-flight request",
		}),
	}
}
