package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal tracks completed top-level syncs by scope and outcome.
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_syncs_total",
			Help: "Total number of profile syncs",
		},
		[]string{"scope", "result"},
	)

	// SyncDuration tracks top-level sync latency.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "profilesync_sync_duration_seconds",
			Help:    "Profile sync duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// OperationsTotal tracks individual sync operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_operations_total",
			Help: "Total number of sync operations",
		},
		[]string{"type", "status"},
	)

	// CacheHits tracks cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profilesync_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profilesync_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks evicted entries by policy.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
		[]string{"policy"},
	)

	// CacheSizeBytes tracks the current total cache size.
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "profilesync_cache_size_bytes",
			Help: "Current total size of cached payloads in bytes",
		},
	)

	// CacheEntries tracks the current entry count.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "profilesync_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// BatchFlushes tracks batch flushes by operation type and reason.
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_batch_flushes_total",
			Help: "Total number of batch flushes",
		},
		[]string{"type", "reason"},
	)

	// DedupJoined tracks callers that joined an in-flight request instead of
	// issuing their own.
	DedupJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profilesync_dedup_joined_total",
			Help: "Total number of requests coalesced into an in-flight fetch",
		},
	)

	// RetriesTotal tracks automatic retries by error kind.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_retries_total",
			Help: "Total number of automatic retries",
		},
		[]string{"kind"},
	)

	// RecoveriesTotal tracks recovery engine outcomes by strategy.
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_recoveries_total",
			Help: "Total number of recovery strategy executions",
		},
		[]string{"strategy", "result"},
	)

	// SourceCalls tracks calls to the remote ownership source.
	SourceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profilesync_source_calls_total",
			Help: "Total number of calls to the ownership source",
		},
		[]string{"method", "result"},
	)

	// DBConnectionPoolUsage tracks database pool usage percentage.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "profilesync_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
