package telemetry

import (
	"fmt"
	"strings"
)

// ExportText renders the aggregates as plain "key value" lines, one
// metric per line, suitable for scraping or a stats CLI command.
func (r *Recorder) ExportText() string {
	queries, zeroResults, partials, reranked, cacheHits := r.Counts()
	latency := r.Latency()

	var b strings.Builder
	write := func(key string, value any) {
		fmt.Fprintf(&b, "%s %v\n", key, value)
	}
	write("queries_total", queries)
	write("zero_result_queries_total", zeroResults)
	write("partial_queries_total", partials)
	write("reranked_queries_total", reranked)
	write("embed_cache_hits_total", cacheHits)
	write("latency_p50_ms", latency.P50.Milliseconds())
	write("latency_p95_ms", latency.P95.Milliseconds())
	write("latency_p99_ms", latency.P99.Milliseconds())
	return b.String()
}
