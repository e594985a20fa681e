package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMetrics mirrors the recorder's aggregates for scraping. Each
// Recorder owns its own registry so tests never collide on metric
// registration.
type promMetrics struct {
	registry *prometheus.Registry

	queries     *prometheus.CounterVec
	zeroResults prometheus.Counter
	partials    prometheus.Counter
	reranked    prometheus.Counter
	cacheHits   prometheus.Counter
	latency     prometheus.Histogram
	embedTime   prometheus.Histogram
	rerankTime  prometheus.Histogram
}

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &promMetrics{
		registry: registry,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_queries_total",
			Help: "Queries served, labeled by classified query type.",
		}, []string{"query_type"}),
		zeroResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "quarry_zero_result_queries_total",
			Help: "Queries that returned no results.",
		}),
		partials: factory.NewCounter(prometheus.CounterOpts{
			Name: "quarry_partial_queries_total",
			Help: "Queries served by a single retrieval leg.",
		}),
		reranked: factory.NewCounter(prometheus.CounterOpts{
			Name: "quarry_reranked_queries_total",
			Help: "Queries whose head was cross-encoder reranked.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "quarry_embed_cache_hits_total",
			Help: "Query embeddings served from cache.",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quarry_query_duration_seconds",
			Help:    "End-to-end query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		embedTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quarry_embed_duration_seconds",
			Help:    "Query embedding latency.",
			Buckets: prometheus.DefBuckets,
		}),
		rerankTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quarry_rerank_duration_seconds",
			Help:    "Cross-encoder rerank latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5},
		}),
	}
}

func (m *promMetrics) observe(rec *QueryRecord) {
	m.queries.WithLabelValues(rec.QueryType).Inc()
	if rec.ResultCount == 0 {
		m.zeroResults.Inc()
	}
	if rec.Partial {
		m.partials.Inc()
	}
	if rec.Reranked {
		m.reranked.Inc()
	}
	if rec.EmbedCacheHit {
		m.cacheHits.Inc()
	}
	m.latency.Observe(rec.TotalTime.Seconds())
	m.embedTime.Observe(rec.EmbedTime.Seconds())
	if rec.Reranked {
		m.rerankTime.Observe(rec.RerankTime.Seconds())
	}
}

// Handler serves the recorder's metrics in prometheus exposition
// format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.metrics.registry, promhttp.HandlerOpts{})
}
