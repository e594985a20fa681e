// Package infer provides the HTTP client for the external inference
// service that produces dense embeddings, learned sparse weights, and
// cross-encoder rerank scores.
//
// The client never retries: the job queue is the retry authority on the
// indexing path, and search callers choose their own fallback. The only
// softened surface is RerankWithFallback, which degrades to the input
// order on failure.
package infer

import "context"

// Sparse is a learned sparse embedding: token -> weight.
type Sparse map[string]float32

// Embeddings carries the result of a combined encode call.
type Embeddings struct {
	Dense  [][]float32
	Sparse []Sparse
}

// RerankResult is one scored document from the reranker.
type RerankResult struct {
	// Index is the position in the input documents slice. The service
	// does not guarantee sorted results; callers map back via Index.
	Index int
	// Score is the cross-encoder relevance score.
	Score float64
}

// Encoder is the inference capability consumed by the indexing pipeline
// and the search engine.
type Encoder interface {
	// EmbedDense returns one dense vector per input text, in order.
	// EmbedDense(ctx, nil) returns an empty slice.
	EmbedDense(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSparse returns one sparse weight map per input text, in order.
	EmbedSparse(ctx context.Context, texts []string) ([]Sparse, error)

	// EmbedBoth returns dense and sparse embeddings from a single call.
	EmbedBoth(ctx context.Context, texts []string) (*Embeddings, error)

	// Rerank scores documents against the query. Results are sorted by
	// score descending and truncated to topK when topK > 0.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// RerankWithFallback behaves like Rerank but on any error returns
	// the input order with monotonically decreasing synthetic scores.
	RerankWithFallback(ctx context.Context, query string, documents []string, topK int) []RerankResult

	// Healthy reports whether the service answers its health endpoint.
	Healthy(ctx context.Context) bool

	// Dimension returns the configured dense embedding dimension.
	Dimension() int
}
