// Package metrics defines the prometheus collectors shared by workspaced
// components and the stats snapshot served on /v1/stats.
//
// Collectors live here rather than in their owning packages when more than
// one component writes them (the cache tiers and the invalidator both touch
// invalidation counters). Component-local collectors, like the vector store
// operation histograms, stay in their packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tier collectors. Labels: tier (l1, l2, l3).
var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Query cache hits per tier",
		},
		[]string{"tier"},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Query cache misses across all tiers",
		},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Query cache evictions per tier",
		},
		[]string{"tier"},
	)

	CacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Bytes held per cache tier (l1 only; shared tiers report from Redis)",
		},
		[]string{"tier"},
	)

	CacheTierSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "tier_seconds",
			Help:      "Lookup latency per cache tier",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"tier"},
	)

	CacheUnavailableTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "cache",
			Name:      "unavailable_total",
			Help:      "Shared-tier failures that degraded the cache to L1 only",
		},
	)
)

// Search collectors.
var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by scope and status (success, degraded, error)",
		},
		[]string{"scope", "status"},
	)

	SearchProjectSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workspaced",
			Subsystem: "search",
			Name:      "project_seconds",
			Help:      "Per-project fan-out search latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	SearchCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "search",
			Name:      "cancelled_total",
			Help:      "Fan-out searches cancelled by early termination",
		},
	)

	SearchDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches served keyword-only because embeddings were unavailable",
		},
	)
)

// Indexer collectors.
var (
	IndexQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workspaced",
			Subsystem: "indexer",
			Name:      "queue_depth",
			Help:      "Pending index events by priority",
		},
		[]string{"priority"},
	)

	IndexFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "indexer",
			Name:      "files_total",
			Help:      "Indexed file events by project and status (indexed, deleted, skipped, partial, error)",
		},
		[]string{"project", "status"},
	)

	IndexChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Chunk outcomes by status (embedded, reused, failed)",
		},
		[]string{"status"},
	)

	IndexErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "indexer",
			Name:      "errors_total",
			Help:      "Per-project indexing errors",
		},
		[]string{"project"},
	)
)

// Watcher collectors.
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Debounced file events emitted, by kind",
		},
		[]string{"kind"},
	)

	WatcherDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "watcher",
			Name:      "dropped_total",
			Help:      "Events dropped because the output channel was full",
		},
	)

	WatcherDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workspaced",
			Subsystem: "watcher",
			Name:      "degraded",
			Help:      "1 while the watcher is in rescan fallback mode",
		},
	)
)

// Invalidator collectors.
var (
	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "invalidator",
			Name:      "invalidations_total",
			Help:      "Fingerprint invalidations by trigger (file, pattern, project, all)",
		},
		[]string{"trigger"},
	)

	InvalidationLagSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "workspaced",
			Subsystem: "invalidator",
			Name:      "lag_seconds",
			Help:      "Time from file event to completed invalidation",
			Buckets:   []float64{.5, 1, 2, 3, 5, 10, 30},
		},
	)

	InvalidationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workspaced",
			Subsystem: "invalidator",
			Name:      "failures_total",
			Help:      "Invalidation batches that exhausted retries",
		},
	)
)
