package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

// Engine defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// EngineConfig tunes the engine.
type EngineConfig struct {
	// DefaultLimit and MaxLimit bound the final result count.
	DefaultLimit int
	MaxLimit     int
	// Rerank enables cross-encoder reranking unless a request
	// overrides it.
	Rerank bool
}

// Engine runs the full query pipeline: classify, retrieve, fuse,
// rerank, post-rank, record.
type Engine struct {
	coordinator *Coordinator
	fuser       *Fuser
	reranker    *Reranker
	recorder    *telemetry.Recorder
	logger      *slog.Logger
	config      EngineConfig
}

// NewEngine wires the pipeline stages.
func NewEngine(coordinator *Coordinator, fuser *Fuser, reranker *Reranker, recorder *telemetry.Recorder, logger *slog.Logger, config EngineConfig) *Engine {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		coordinator: coordinator,
		fuser:       fuser,
		reranker:    reranker,
		recorder:    recorder,
		logger:      logger,
		config:      config,
	}
}

// Search executes one query.
func (e *Engine) Search(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	query := Normalize(req.Query)
	if query == "" {
		return nil, errors.InvalidArgument("search.Search", "query must not be empty")
	}
	if req.Store == "" {
		return nil, errors.InvalidArgument("search.Search", "store must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	resp := &Response{
		RequestID:      uuid.NewString(),
		Classification: Classify(query),
	}

	raw, err := e.coordinator.Retrieve(ctx, req.Store, query, req)
	if err != nil {
		return nil, err
	}
	if raw.SparseErr != nil || raw.DenseErr != nil {
		resp.Partial = true
		legErr := raw.SparseErr
		if legErr == nil {
			legErr = raw.DenseErr
		}
		resp.Warning = "partial results: " + legErr.Error()
	}

	fusionStart := time.Now()
	results := e.fuser.Fuse(query, raw.Sparse, raw.Dense)
	fusionTime := time.Since(fusionStart)

	rerankStart := time.Now()
	var rerankTime time.Duration
	if e.rerankEnabled(req) && e.reranker != nil {
		results, resp.Reranked = e.reranker.Rerank(ctx, query, results)
		rerankTime = time.Since(rerankStart)
	}

	postStart := time.Now()
	if req.GroupByFile {
		results = DedupeByFile(results)
	}
	results = finishResults(results, limit)
	postTime := time.Since(postStart)

	resp.Results = results
	resp.Took = time.Since(start)

	e.record(resp, req.Store, raw, Timings{
		Embed:     raw.EmbedTime,
		Retrieval: raw.SparseTime + raw.DenseTime,
		Fusion:    fusionTime,
		Rerank:    rerankTime,
		PostRank:  postTime,
		Total:     resp.Took,
	})

	e.logger.Debug("search_done",
		slog.String("request_id", resp.RequestID),
		slog.String("store", req.Store),
		slog.String("query_type", string(resp.Classification.Type)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", resp.Reranked),
		slog.Duration("took", resp.Took))
	return resp, nil
}

func (e *Engine) rerankEnabled(req *Request) bool {
	if req.Rerank != nil {
		return *req.Rerank
	}
	return e.config.Rerank
}

// Rerankers exposes the reranker counters for the stats surface.
func (e *Engine) RerankStats() RerankStats {
	if e.reranker == nil {
		return RerankStats{}
	}
	return e.reranker.Stats()
}

func (e *Engine) record(resp *Response, store string, raw *RawResults, timings Timings) {
	if e.recorder == nil {
		return
	}

	sparseScores := make([]float64, len(raw.Sparse))
	for i, r := range raw.Sparse {
		sparseScores[i] = r.Score
	}
	denseScores := make([]float64, len(raw.Dense))
	for i, r := range raw.Dense {
		denseScores[i] = r.Score
	}

	e.recorder.Record(&telemetry.QueryRecord{
		RequestID:     resp.RequestID,
		Store:         store,
		At:            time.Now().UTC(),
		QueryType:     string(resp.Classification.Type),
		Confidence:    resp.Classification.Confidence,
		EmbedTime:     timings.Embed,
		RetrievalTime: timings.Retrieval,
		FusionTime:    timings.Fusion,
		RerankTime:    timings.Rerank,
		PostRankTime:  timings.PostRank,
		TotalTime:     timings.Total,
		SparseHits:    len(raw.Sparse),
		DenseHits:     len(raw.Dense),
		ResultCount:   len(resp.Results),
		SparseStats:   telemetry.ComputeScoreStats(sparseScores),
		DenseStats:    telemetry.ComputeScoreStats(denseScores),
		// A sub-millisecond embed phase means the cache answered.
		EmbedCacheHit: timings.Embed > 0 && timings.Embed < time.Millisecond,
		Reranked:      resp.Reranked,
		Partial:       resp.Partial,
	})
}
