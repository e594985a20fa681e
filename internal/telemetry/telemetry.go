// Package telemetry records per-query observability data in a fixed
// ring buffer and exposes aggregates as text and prometheus metrics.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize bounds the per-query record buffer.
const DefaultRingSize = 10000

// ScoreStats summarizes one modality's score distribution for a query.
type ScoreStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Top  float64 `json:"top"`
	Gap  float64 `json:"gap"`
}

// QueryRecord is one query's telemetry.
type QueryRecord struct {
	RequestID string    `json:"request_id"`
	Store     string    `json:"store"`
	At        time.Time `json:"at"`

	QueryType  string  `json:"query_type"`
	Confidence float64 `json:"confidence"`

	EmbedTime     time.Duration `json:"embed_ns"`
	RetrievalTime time.Duration `json:"retrieval_ns"`
	FusionTime    time.Duration `json:"fusion_ns"`
	RerankTime    time.Duration `json:"rerank_ns"`
	PostRankTime  time.Duration `json:"postrank_ns"`
	TotalTime     time.Duration `json:"total_ns"`

	SparseHits  int `json:"sparse_hits"`
	DenseHits   int `json:"dense_hits"`
	ResultCount int `json:"result_count"`

	SparseStats ScoreStats `json:"sparse_stats"`
	DenseStats  ScoreStats `json:"dense_stats"`

	EmbedCacheHit bool `json:"embed_cache_hit"`
	Reranked      bool `json:"reranked"`
	Partial       bool `json:"partial"`
}

// Percentiles are the recomputed total-latency percentiles.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Recorder holds the ring buffer plus running aggregates. Counters are
// atomic; the ring is guarded by a mutex.
type Recorder struct {
	mu      sync.RWMutex
	ring    []*QueryRecord
	next    int
	filled  bool
	latency Percentiles

	queries     atomic.Int64
	zeroResults atomic.Int64
	partials    atomic.Int64
	reranked    atomic.Int64
	cacheHits   atomic.Int64

	metrics *promMetrics
}

// NewRecorder creates a recorder. ringSize <= 0 selects the default.
func NewRecorder(ringSize int) *Recorder {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Recorder{
		ring:    make([]*QueryRecord, ringSize),
		metrics: newPromMetrics(),
	}
}

// Record stores a query record and recomputes latency percentiles.
func (r *Recorder) Record(rec *QueryRecord) {
	r.queries.Add(1)
	if rec.ResultCount == 0 {
		r.zeroResults.Add(1)
	}
	if rec.Partial {
		r.partials.Add(1)
	}
	if rec.Reranked {
		r.reranked.Add(1)
	}
	if rec.EmbedCacheHit {
		r.cacheHits.Add(1)
	}
	r.metrics.observe(rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = rec
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.filled = true
	}
	r.latency = r.computePercentilesLocked()
}

func (r *Recorder) computePercentilesLocked() Percentiles {
	n := r.next
	if r.filled {
		n = len(r.ring)
	}
	if n == 0 {
		return Percentiles{}
	}
	totals := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		totals = append(totals, r.ring[i].TotalTime)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	pick := func(q float64) time.Duration {
		idx := int(q * float64(len(totals)-1))
		return totals[idx]
	}
	return Percentiles{P50: pick(0.50), P95: pick(0.95), P99: pick(0.99)}
}

// Latency returns the current total-latency percentiles.
func (r *Recorder) Latency() Percentiles {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latency
}

// Recent returns up to n records, newest first.
func (r *Recorder) Recent(n int) []*QueryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.filled {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]*QueryRecord, 0, n)
	idx := r.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = len(r.ring) - 1
		}
		out = append(out, r.ring[idx])
		idx--
	}
	return out
}

// Counts returns the running totals.
func (r *Recorder) Counts() (queries, zeroResults, partials, reranked, cacheHits int64) {
	return r.queries.Load(), r.zeroResults.Load(), r.partials.Load(),
		r.reranked.Load(), r.cacheHits.Load()
}

// ComputeScoreStats summarizes a score list: mean and std over the
// whole list, top score, and relative top-to-second gap.
func ComputeScoreStats(scores []float64) ScoreStats {
	if len(scores) == 0 {
		return ScoreStats{}
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}

	stats := ScoreStats{
		Mean: mean,
		Top:  scores[0],
	}
	if len(scores) > 1 {
		variance /= float64(len(scores))
		stats.Std = math.Sqrt(variance)
		if scores[0] > 0 {
			stats.Gap = (scores[0] - scores[1]) / scores[0]
		}
	}
	return stats
}
