package telemetry

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(total time.Duration) *QueryRecord {
	return &QueryRecord{
		RequestID: "r",
		Store:     "repo",
		QueryType: "hybrid",
		TotalTime: total,
	}
}

func TestRecordAndCounts(t *testing.T) {
	r := NewRecorder(10)

	r.Record(&QueryRecord{QueryType: "code", ResultCount: 3, TotalTime: time.Millisecond})
	r.Record(&QueryRecord{QueryType: "natural", ResultCount: 0, Partial: true, TotalTime: time.Millisecond})
	r.Record(&QueryRecord{QueryType: "code", ResultCount: 1, Reranked: true, EmbedCacheHit: true, TotalTime: time.Millisecond})

	queries, zero, partial, reranked, cacheHits := r.Counts()
	assert.Equal(t, int64(3), queries)
	assert.Equal(t, int64(1), zero)
	assert.Equal(t, int64(1), partial)
	assert.Equal(t, int64(1), reranked)
	assert.Equal(t, int64(1), cacheHits)
}

func TestRingWrapsAround(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(&QueryRecord{RequestID: fmt.Sprintf("q%d", i), TotalTime: time.Millisecond})
	}

	recent := r.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "q4", recent[0].RequestID, "newest first")
	assert.Equal(t, "q2", recent[2].RequestID, "oldest surviving record")
}

func TestPercentiles(t *testing.T) {
	r := NewRecorder(100)
	for i := 1; i <= 100; i++ {
		r.Record(record(time.Duration(i) * time.Millisecond))
	}

	p := r.Latency()
	assert.InDelta(t, 50, p.P50.Milliseconds(), 2)
	assert.InDelta(t, 95, p.P95.Milliseconds(), 2)
	assert.InDelta(t, 99, p.P99.Milliseconds(), 2)
}

func TestComputeScoreStats(t *testing.T) {
	stats := ComputeScoreStats([]float64{10, 5, 5})
	assert.InDelta(t, 6.6667, stats.Mean, 0.001)
	assert.Equal(t, 10.0, stats.Top)
	assert.InDelta(t, 0.5, stats.Gap, 1e-9)
	assert.Positive(t, stats.Std)

	assert.Zero(t, ComputeScoreStats(nil))
	single := ComputeScoreStats([]float64{3})
	assert.Equal(t, 3.0, single.Top)
	assert.Zero(t, single.Gap)
}

func TestExportText(t *testing.T) {
	r := NewRecorder(10)
	r.Record(&QueryRecord{QueryType: "code", ResultCount: 2, TotalTime: 40 * time.Millisecond})

	text := r.ExportText()
	assert.Contains(t, text, "queries_total 1")
	assert.Contains(t, text, "latency_p50_ms 40")
	assert.Contains(t, text, "zero_result_queries_total 0")
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRecorder(10)
	r.Record(&QueryRecord{QueryType: "code", ResultCount: 2, TotalTime: 40 * time.Millisecond})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, body, "quarry_queries_total")
	assert.Contains(t, body, `query_type="code"`)
	assert.Contains(t, body, "quarry_query_duration_seconds")
}

func TestConcurrentRecording(t *testing.T) {
	r := NewRecorder(50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.Record(record(time.Millisecond))
		}
	}()
	for i := 0; i < 200; i++ {
		_ = r.Latency()
		_ = r.Recent(5)
	}
	<-done

	queries, _, _, _, _ := r.Counts()
	assert.Equal(t, int64(200), queries)
}
