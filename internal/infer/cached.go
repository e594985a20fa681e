package infer

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrysearch/quarry/internal/cache"
)

// CachedEncoder wraps an Encoder with exact-text LRU caches for dense,
// sparse, and rerank results. Batch calls split into cached and
// uncached positions so only misses hit the service.
type CachedEncoder struct {
	inner  Encoder
	dense  *cache.Cache[[]float32]
	sparse *cache.Cache[Sparse]
	rerank *cache.Cache[[]RerankResult]
}

var _ Encoder = (*CachedEncoder)(nil)

// NewCachedEncoder wraps inner with caches of the given capacity and TTL.
func NewCachedEncoder(inner Encoder, capacity int, ttl time.Duration) *CachedEncoder {
	return &CachedEncoder{
		inner:  inner,
		dense:  cache.New[[]float32](capacity, ttl),
		sparse: cache.New[Sparse](capacity, ttl),
		rerank: cache.New[[]RerankResult](capacity, ttl),
	}
}

// EmbedDense returns cached vectors where available and embeds the rest.
func (c *CachedEncoder) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := c.dense.Get(text); ok {
			results[i] = v
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		fresh, err := c.inner.EmbedDense(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, v := range fresh {
			results[missingIdx[j]] = v
			c.dense.Set(missing[j], v)
		}
	}
	return results, nil
}

// EmbedSparse returns cached sparse maps where available and embeds the rest.
func (c *CachedEncoder) EmbedSparse(ctx context.Context, texts []string) ([]Sparse, error) {
	if len(texts) == 0 {
		return []Sparse{}, nil
	}

	results := make([]Sparse, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := c.sparse.Get(text); ok {
			results[i] = v
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		fresh, err := c.inner.EmbedSparse(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, v := range fresh {
			results[missingIdx[j]] = v
			c.sparse.Set(missing[j], v)
		}
	}
	return results, nil
}

// EmbedBoth serves texts fully cached in both caches and embeds the
// rest in one combined call.
func (c *CachedEncoder) EmbedBoth(ctx context.Context, texts []string) (*Embeddings, error) {
	if len(texts) == 0 {
		return &Embeddings{Dense: [][]float32{}, Sparse: []Sparse{}}, nil
	}

	out := &Embeddings{
		Dense:  make([][]float32, len(texts)),
		Sparse: make([]Sparse, len(texts)),
	}
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		d, okD := c.dense.Get(text)
		s, okS := c.sparse.Get(text)
		if okD && okS {
			out.Dense[i] = d
			out.Sparse[i] = s
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		fresh, err := c.inner.EmbedBoth(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j := range missing {
			out.Dense[missingIdx[j]] = fresh.Dense[j]
			out.Sparse[missingIdx[j]] = fresh.Sparse[j]
			c.dense.Set(missing[j], fresh.Dense[j])
			c.sparse.Set(missing[j], fresh.Sparse[j])
		}
	}
	return out, nil
}

// Rerank caches on the full (query, documents, topK) tuple. Rerank
// calls are query-time only and the candidate sets repeat across
// paginated queries, so hit rates justify the key size.
func (c *CachedEncoder) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	key := rerankKey(query, documents, topK)
	if v, ok := c.rerank.Get(key); ok {
		return v, nil
	}
	results, err := c.inner.Rerank(ctx, query, documents, topK)
	if err != nil {
		return nil, err
	}
	c.rerank.Set(key, results)
	return results, nil
}

// RerankWithFallback caches successful reranks; fallback orderings are
// never cached so a recovered service is used on the next query.
func (c *CachedEncoder) RerankWithFallback(ctx context.Context, query string, documents []string, topK int) []RerankResult {
	key := rerankKey(query, documents, topK)
	if v, ok := c.rerank.Get(key); ok {
		return v
	}
	results, err := c.inner.Rerank(ctx, query, documents, topK)
	if err == nil {
		c.rerank.Set(key, results)
		return results
	}

	fallback := make([]RerankResult, len(documents))
	for i := range documents {
		fallback[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(fallback) {
		fallback = fallback[:topK]
	}
	return fallback
}

// Healthy delegates to the wrapped encoder.
func (c *CachedEncoder) Healthy(ctx context.Context) bool {
	return c.inner.Healthy(ctx)
}

// Dimension delegates to the wrapped encoder.
func (c *CachedEncoder) Dimension() int {
	return c.inner.Dimension()
}

// ClearCaches drops all cached results. Called after reindexing when
// the embedding model may have changed.
func (c *CachedEncoder) ClearCaches() {
	c.dense.Clear()
	c.sparse.Clear()
	c.rerank.Clear()
}

func rerankKey(query string, documents []string, topK int) string {
	key := fmt.Sprintf("%d\x00%s", topK, query)
	for _, d := range documents {
		key += "\x00" + d
	}
	return key
}
