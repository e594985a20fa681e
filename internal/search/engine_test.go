package search

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/telemetry"
	"github.com/quarrysearch/quarry/internal/vector"
)

const engineTestDim = 4

// queryEncoder embeds every text onto a fixed axis so that dense
// retrieval is deterministic in tests.
type queryEncoder struct {
	axis      int
	rerank    []infer.RerankResult
	rerankErr error
}

var _ infer.Encoder = (*queryEncoder)(nil)

func (q *queryEncoder) EmbedDense(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, engineTestDim)
		vec[q.axis] = 1
		out[i] = vec
	}
	return out, nil
}

func (q *queryEncoder) EmbedSparse(_ context.Context, texts []string) ([]infer.Sparse, error) {
	out := make([]infer.Sparse, len(texts))
	for i := range texts {
		out[i] = infer.Sparse{"token": 1.0}
	}
	return out, nil
}

func (q *queryEncoder) EmbedBoth(ctx context.Context, texts []string) (*infer.Embeddings, error) {
	dense, _ := q.EmbedDense(ctx, texts)
	sparse, _ := q.EmbedSparse(ctx, texts)
	return &infer.Embeddings{Dense: dense, Sparse: sparse}, nil
}

func (q *queryEncoder) Rerank(context.Context, string, []string, int) ([]infer.RerankResult, error) {
	return q.rerank, q.rerankErr
}

func (q *queryEncoder) RerankWithFallback(ctx context.Context, query string, docs []string, topK int) []infer.RerankResult {
	out := make([]infer.RerankResult, len(docs))
	for i := range docs {
		out[i] = infer.RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return out
}

func (q *queryEncoder) Healthy(context.Context) bool { return true }
func (q *queryEncoder) Dimension() int               { return engineTestDim }

func newTestEngine(t *testing.T, encoder infer.Encoder, rerank bool) (*Engine, *lexical.Index, *vector.LocalStore, *telemetry.Recorder) {
	t.Helper()

	lex, err := lexical.NewIndex(filepath.Join(t.TempDir(), "lexical"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	vectors, err := vector.NewLocalStore(engineTestDim, false)
	require.NoError(t, err)

	recorder := telemetry.NewRecorder(100)
	coordinator := NewCoordinator(lex, vectors, encoder, false, 0, 0, slog.Default())
	fuser := NewFuser(FusionConfig{})
	reranker := NewReranker(encoder, 0, 0, slog.Default())
	engine := NewEngine(coordinator, fuser, reranker, recorder, slog.Default(),
		EngineConfig{Rerank: rerank})
	return engine, lex, vectors, recorder
}

func seedCorpus(t *testing.T, lex *lexical.Index, vectors *vector.LocalStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, lex.Add(ctx, "repo", []*lexical.Document{
		{DocID: "auth.go#0#1", Path: "auth/auth.go", Language: "go",
			Symbols: []string{"ValidateToken"}, Content: "func ValidateToken(token string) bool", StartLine: 1, EndLine: 5},
		{DocID: "render.ts#0#2", Path: "web/render.ts", Language: "typescript",
			Symbols: []string{"renderPage"}, Content: "export function renderPage()", StartLine: 1, EndLine: 4},
	}))

	require.NoError(t, vectors.Upsert(ctx, "repo", []*vector.Point{
		{DocID: "auth.go#0#1", Dense: []float32{1, 0, 0, 0}, Path: "auth/auth.go",
			Language: "go", Content: "func ValidateToken(token string) bool"},
		{DocID: "render.ts#0#2", Dense: []float32{0, 1, 0, 0}, Path: "web/render.ts",
			Language: "typescript", Content: "export function renderPage()"},
	}))
}

func TestEngineSearch(t *testing.T) {
	engine, lex, vectors, recorder := newTestEngine(t, &queryEncoder{axis: 0}, false)
	seedCorpus(t, lex, vectors)

	resp, err := engine.Search(context.Background(), &Request{Query: "validate token", Store: "repo"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "auth.go#0#1", resp.Results[0].DocID,
		"lexical and dense agreement plus symbol boost puts auth first")
	assert.NotEmpty(t, resp.RequestID)
	assert.False(t, resp.Partial)
	assert.Positive(t, resp.Results[0].DisplayPercent)

	queries, _, _, _, _ := recorder.Counts()
	assert.Equal(t, int64(1), queries)
}

func TestEngineEmptyQueryRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, &queryEncoder{}, false)
	_, err := engine.Search(context.Background(), &Request{Query: "  ", Store: "repo"})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))
}

func TestEngineMissingStoreReturnsEmpty(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, &queryEncoder{}, false)
	resp, err := engine.Search(context.Background(), &Request{Query: "anything", Store: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Partial)
}

func TestEngineGroupByFile(t *testing.T) {
	engine, lex, vectors, _ := newTestEngine(t, &queryEncoder{axis: 0}, false)
	ctx := context.Background()

	require.NoError(t, lex.Add(ctx, "repo", []*lexical.Document{
		{DocID: "a#0", Path: "auth.go", Language: "go", Content: "validate token header"},
		{DocID: "a#1", Path: "auth.go", Language: "go", Content: "validate token footer"},
	}))
	_ = vectors

	resp, err := engine.Search(ctx, &Request{Query: "validate token", Store: "repo", GroupByFile: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "one result per file in group mode")
}

func TestEngineRerankFailOpen(t *testing.T) {
	encoder := &queryEncoder{axis: 0, rerankErr: assert.AnError}
	engine, lex, vectors, _ := newTestEngine(t, encoder, true)
	seedCorpus(t, lex, vectors)
	ctx := context.Background()

	require.NoError(t, lex.Add(ctx, "repo", []*lexical.Document{
		{DocID: "extra#0", Path: "extra.go", Language: "go", Content: "token parsing helper"},
	}))

	resp, err := engine.Search(ctx, &Request{Query: "validate token", Store: "repo"})
	require.NoError(t, err)
	assert.False(t, resp.Reranked, "rerank failure degrades to fused order")
	assert.NotEmpty(t, resp.Results)
}

func TestEngineLimitClamped(t *testing.T) {
	engine, lex, vectors, _ := newTestEngine(t, &queryEncoder{axis: 0}, false)
	seedCorpus(t, lex, vectors)

	resp, err := engine.Search(context.Background(),
		&Request{Query: "validate token", Store: "repo", Limit: 100000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), MaxLimit)
}
