// Package metrics exposes Prometheus counters, gauges, and histograms
// for the projection service and the query pipeline, scraped at the
// projection service's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry wraps a prometheus.Registerer so callers in tests can supply
// an isolated registry instead of sharing the global default one.
type Registry struct {
	reg prometheus.Registerer

	MultiplyRequests   *prometheus.CounterVec
	MultiplyLatency    prometheus.Histogram
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CachedMatrices     prometheus.Gauge
	InProcessFallbacks prometheus.Counter

	SearchRequests  *prometheus.CounterVec
	SearchLatency   *prometheus.HistogramVec
	RebuildsStarted prometheus.Counter
	RebuildDuration prometheus.Histogram
	RebuildFailures prometheus.Counter
}

// New registers every metric on reg and returns the bound Registry. Pass
// prometheus.NewRegistry() in tests; pass prometheus.DefaultRegisterer
// in production so /metrics serves the process-wide registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		MultiplyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "projection_multiply_requests_total",
			Help: "Total POST /multiply requests, labeled by outcome.",
		}, []string{"outcome"}),
		MultiplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "projection_multiply_duration_seconds",
			Help:    "Latency of y = x * M projection requests.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "projection_matrix_cache_hits_total",
			Help: "Matrix cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "projection_matrix_cache_misses_total",
			Help: "Matrix cache misses requiring a disk load.",
		}),
		CachedMatrices: factory.NewGauge(prometheus.GaugeOpts{
			Name: "projection_cached_matrices",
			Help: "Number of projection matrices currently cached.",
		}),
		InProcessFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "projection_in_process_fallbacks_total",
			Help: "Times the client fell back to in-process multiplication.",
		}),
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "query_search_requests_total",
			Help: "Total search requests, labeled by accuracy preset.",
		}, []string{"accuracy"}),
		SearchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_search_duration_seconds",
			Help:    "Latency of the vector store search step, labeled by HNSW or fallback strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		RebuildsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rebuild_runs_total",
			Help: "Index rebuild runs started, of any kind (HNSW, id index, FTS).",
		}),
		RebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rebuild_duration_seconds",
			Help:    "Duration of an index rebuild, lock-to-lock.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		RebuildFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rebuild_failures_total",
			Help: "Index rebuilds that returned an error.",
		}),
	}
}
