package infer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/errors"
)

// countingEncoder records which texts each call saw.
type countingEncoder struct {
	denseCalls  [][]string
	sparseCalls [][]string
	bothCalls   [][]string
	rerankCalls int
	rerankErr   error
}

func (f *countingEncoder) EmbedDense(_ context.Context, texts []string) ([][]float32, error) {
	f.denseCalls = append(f.denseCalls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *countingEncoder) EmbedSparse(_ context.Context, texts []string) ([]Sparse, error) {
	f.sparseCalls = append(f.sparseCalls, texts)
	out := make([]Sparse, len(texts))
	for i, t := range texts {
		out[i] = Sparse{"1": float32(len(t))}
	}
	return out, nil
}

func (f *countingEncoder) EmbedBoth(ctx context.Context, texts []string) (*Embeddings, error) {
	f.bothCalls = append(f.bothCalls, texts)
	dense, _ := f.EmbedDense(ctx, texts)
	f.denseCalls = f.denseCalls[:len(f.denseCalls)-1]
	sparse, _ := f.EmbedSparse(ctx, texts)
	f.sparseCalls = f.sparseCalls[:len(f.sparseCalls)-1]
	return &Embeddings{Dense: dense, Sparse: sparse}, nil
}

func (f *countingEncoder) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	f.rerankCalls++
	if f.rerankErr != nil {
		return nil, f.rerankErr
	}
	out := make([]RerankResult, len(documents))
	for i := range documents {
		out[i] = RerankResult{Index: i, Score: float64(len(documents) - i)}
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (f *countingEncoder) RerankWithFallback(ctx context.Context, query string, documents []string, topK int) []RerankResult {
	r, err := f.Rerank(ctx, query, documents, topK)
	if err != nil {
		return nil
	}
	return r
}

func (f *countingEncoder) Healthy(context.Context) bool { return true }
func (f *countingEncoder) Dimension() int               { return 1 }

func TestCachedEmbedDenseHitsSkipService(t *testing.T) {
	inner := &countingEncoder{}
	c := NewCachedEncoder(inner, 100, time.Minute)

	first, err := c.EmbedDense(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)
	require.Len(t, inner.denseCalls, 1)

	second, err := c.EmbedDense(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)
	assert.Len(t, inner.denseCalls, 1, "full cache hit must not call the service")
	assert.Equal(t, first, second)
}

func TestCachedEmbedDensePartialHit(t *testing.T) {
	inner := &countingEncoder{}
	c := NewCachedEncoder(inner, 100, time.Minute)

	_, err := c.EmbedDense(context.Background(), []string{"aa"})
	require.NoError(t, err)

	got, err := c.EmbedDense(context.Background(), []string{"cccc", "aa", "d"})
	require.NoError(t, err)

	require.Len(t, inner.denseCalls, 2)
	assert.Equal(t, []string{"cccc", "d"}, inner.denseCalls[1], "only misses reach the service")

	// Positions must line up with the input regardless of cache state.
	assert.Equal(t, []float32{4}, got[0])
	assert.Equal(t, []float32{2}, got[1])
	assert.Equal(t, []float32{1}, got[2])
}

func TestCachedEmbedBothRequiresBothCached(t *testing.T) {
	inner := &countingEncoder{}
	c := NewCachedEncoder(inner, 100, time.Minute)

	// Dense-only warm: EmbedBoth must still fetch, since sparse is missing.
	_, err := c.EmbedDense(context.Background(), []string{"aa"})
	require.NoError(t, err)

	_, err = c.EmbedBoth(context.Background(), []string{"aa"})
	require.NoError(t, err)
	require.Len(t, inner.bothCalls, 1)

	_, err = c.EmbedBoth(context.Background(), []string{"aa"})
	require.NoError(t, err)
	assert.Len(t, inner.bothCalls, 1, "second call should be fully cached")
}

func TestCachedRerank(t *testing.T) {
	inner := &countingEncoder{}
	c := NewCachedEncoder(inner, 100, time.Minute)

	docs := []string{"x", "y", "z"}
	_, err := c.Rerank(context.Background(), "q", docs, 2)
	require.NoError(t, err)
	_, err = c.Rerank(context.Background(), "q", docs, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.rerankCalls)

	// Different topK is a different key.
	_, err = c.Rerank(context.Background(), "q", docs, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.rerankCalls)
}

func TestCachedRerankFallbackNotCached(t *testing.T) {
	inner := &countingEncoder{rerankErr: errors.Timeout("infer/rerank", context.DeadlineExceeded)}
	c := NewCachedEncoder(inner, 100, time.Minute)

	docs := []string{"x", "y"}
	got := c.RerankWithFallback(context.Background(), "q", docs, 0)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)

	// Service recovers: next call must reach it, not a cached fallback.
	inner.rerankErr = nil
	_ = c.RerankWithFallback(context.Background(), "q", docs, 0)
	assert.Equal(t, 2, inner.rerankCalls)
}

func TestClearCaches(t *testing.T) {
	inner := &countingEncoder{}
	c := NewCachedEncoder(inner, 100, time.Minute)

	_, err := c.EmbedDense(context.Background(), []string{"aa"})
	require.NoError(t, err)
	c.ClearCaches()
	_, err = c.EmbedDense(context.Background(), []string{"aa"})
	require.NoError(t, err)
	assert.Len(t, inner.denseCalls, 2)
}
