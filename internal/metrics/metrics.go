// Package metrics defines the Prometheus instrumentation for the browse
// engine: write-side counters for the index writer and read-side counters
// for browse queries and the result cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine exposes.
type Metrics struct {
	ItemsIndexed   prometheus.Counter
	ItemsRemoved   prometheus.Counter
	IndexFailures  prometheus.Counter
	DistinctPruned prometheus.Counter

	// BrowseQueries counts browse requests by level (item or value).
	BrowseQueries *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which tests and embedders without a metrics
// endpoint can use freely.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "items_indexed_total",
			Help: "Items written to the browse index.",
		}),
		ItemsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "items_removed_total",
			Help: "Items removed from the browse index.",
		}),
		IndexFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "index_failures_total",
			Help: "Failed index writes.",
		}),
		DistinctPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "distinct_pruned_total",
			Help: "Orphaned distinct values pruned.",
		}),
		BrowseQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "browse_queries_total",
			Help: "Browse queries served, by result level.",
		}, []string{"level"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "cache_hits_total",
			Help: "Browse pages served from the result cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "browsedex", Name: "cache_misses_total",
			Help: "Browse pages assembled from the database.",
		}),
	}
}
