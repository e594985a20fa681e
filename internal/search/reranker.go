package search

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quarrysearch/quarry/internal/infer"
)

// Reranker defaults.
const (
	DefaultRerankTimeout    = 100 * time.Millisecond
	DefaultRerankCandidates = 20

	// minRerankQueryLen skips reranking for queries too short to give
	// the cross-encoder signal.
	minRerankQueryLen = 3

	// dominantTopRatio skips reranking when the top result already
	// dwarfs the runner-up.
	dominantTopRatio = 3.0
)

// RerankStats is a snapshot of reranker counters. Timeouts counts
// deadline misses only; other encoder errors land in Failures.
type RerankStats struct {
	Success    int64
	Timeouts   int64
	Failures   int64
	Skips      int64
	AvgLatency time.Duration
}

// Reranker reorders the fused head with cross-encoder scores. It fails
// open: any error or deadline miss returns the input order.
type Reranker struct {
	encoder    infer.Encoder
	logger     *slog.Logger
	timeout    time.Duration
	candidates int

	success    atomic.Int64
	timeouts   atomic.Int64
	failures   atomic.Int64
	skips      atomic.Int64
	latencyNs  atomic.Int64
	latencyCnt atomic.Int64
}

// NewReranker creates a reranker. Zero timeout and candidates select
// the defaults.
func NewReranker(encoder infer.Encoder, timeout time.Duration, candidates int, logger *slog.Logger) *Reranker {
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	if candidates <= 0 {
		candidates = DefaultRerankCandidates
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{encoder: encoder, logger: logger, timeout: timeout, candidates: candidates}
}

// ShouldRerank applies the skip heuristics.
func (r *Reranker) ShouldRerank(query string, results []*Result) bool {
	if len(results) <= 2 {
		return false
	}
	if len(strings.TrimSpace(query)) < minRerankQueryLen {
		return false
	}
	if results[1].FinalScore > 0 && results[0].FinalScore > dominantTopRatio*results[1].FinalScore {
		return false
	}
	return true
}

// Rerank scores the head candidates against the query and re-sorts.
// The non-reranked tail keeps its fused scores. The returned bool
// reports whether rerank scores were applied.
func (r *Reranker) Rerank(ctx context.Context, query string, results []*Result) ([]*Result, bool) {
	if !r.ShouldRerank(query, results) {
		r.skips.Add(1)
		return results, false
	}

	head := min(r.candidates, len(results))
	docs := make([]string, head)
	for i := 0; i < head; i++ {
		docs[i] = results[i].Content
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	scored, err := r.encoder.Rerank(ctx, query, docs, head)
	elapsed := time.Since(start)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			r.timeouts.Add(1)
		} else {
			r.failures.Add(1)
		}
		r.logger.Debug("rerank_failed_open",
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return results, false
	}

	r.success.Add(1)
	r.latencyNs.Add(elapsed.Nanoseconds())
	r.latencyCnt.Add(1)

	for rank, rr := range scored {
		if rr.Index < 0 || rr.Index >= head {
			continue
		}
		hit := results[rr.Index]
		hit.RerankScore = rr.Score
		hit.RerankRank = rank + 1
		hit.FinalScore = rr.Score
	}
	sortResults(results)
	return results, true
}

// Stats snapshots the counters.
func (r *Reranker) Stats() RerankStats {
	stats := RerankStats{
		Success:  r.success.Load(),
		Timeouts: r.timeouts.Load(),
		Failures: r.failures.Load(),
		Skips:    r.skips.Load(),
	}
	if n := r.latencyCnt.Load(); n > 0 {
		stats.AvgLatency = time.Duration(r.latencyNs.Load() / n)
	}
	return stats
}
