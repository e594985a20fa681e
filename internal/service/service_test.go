package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/search"
)

const testDimension = 4

// stubEncoder embeds deterministically so no inference service is
// needed.
type stubEncoder struct{}

var _ infer.Encoder = (*stubEncoder)(nil)

func (stubEncoder) EmbedDense(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)%5) + 1, 1, 0, 0}
	}
	return out, nil
}

func (stubEncoder) EmbedSparse(_ context.Context, texts []string) ([]infer.Sparse, error) {
	out := make([]infer.Sparse, len(texts))
	for i := range texts {
		out[i] = infer.Sparse{"token": 1.0}
	}
	return out, nil
}

func (s stubEncoder) EmbedBoth(ctx context.Context, texts []string) (*infer.Embeddings, error) {
	dense, _ := s.EmbedDense(ctx, texts)
	sparse, _ := s.EmbedSparse(ctx, texts)
	return &infer.Embeddings{Dense: dense, Sparse: sparse}, nil
}

func (stubEncoder) Rerank(context.Context, string, []string, int) ([]infer.RerankResult, error) {
	return nil, nil
}

func (stubEncoder) RerankWithFallback(context.Context, string, []string, int) []infer.RerankResult {
	return nil
}

func (stubEncoder) Healthy(context.Context) bool { return true }
func (stubEncoder) Dimension() int               { return testDimension }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Lexical.Root = filepath.Join(dir, "lexical")
	cfg.Queue.Path = filepath.Join(dir, "queue.db")
	cfg.Vector.Backend = "local"
	cfg.Vector.Hybrid = true
	cfg.Inference.Dimension = testDimension
	cfg.Search.Rerank = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(testConfig(t), slog.Default(), WithEncoder(stubEncoder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

var authSource = []byte(`package auth

// ValidateToken checks the bearer token format before any lookup.
func ValidateToken(token string) bool {
	return token != ""
}
`)

func TestStoreLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateStore(ctx, "repo", "main repo")
	require.NoError(t, err)
	assert.Equal(t, "repo", created.Name)

	updated, err := svc.CreateStore(ctx, "repo", "renamed")
	require.NoError(t, err, "re-creating updates the description")
	assert.Equal(t, "renamed", updated.Description)

	stores, err := svc.ListStores()
	require.NoError(t, err)
	require.Len(t, stores, 1)

	require.NoError(t, svc.DeleteStore(ctx, "repo"))
	stores, err = svc.ListStores()
	require.NoError(t, err)
	assert.Empty(t, stores)
}

func TestIndexRequiresRegisteredStore(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Index(context.Background(), "ghost",
		[]index.File{{Path: "a.go", Content: authSource}}, false)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestIndexAndSearchEndToEnd(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateStore(ctx, "repo", "")
	require.NoError(t, err)

	res, err := svc.Index(ctx, "repo",
		[]index.File{{Path: "auth/token.go", Content: authSource}}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(drainCtx))

	resp, err := svc.Search(ctx, &search.Request{Query: "validate token", Store: "repo"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "auth/token.go", resp.Results[0].Path)
}

func TestStoreStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateStore(ctx, "repo", "")
	require.NoError(t, err)
	_, err = svc.Index(ctx, "repo",
		[]index.File{{Path: "auth/token.go", Content: authSource}}, false)
	require.NoError(t, err)
	require.NoError(t, svc.Drain(ctx))

	stats, err := svc.StoreStats(ctx, "repo")
	require.NoError(t, err)
	assert.Positive(t, stats.Documents)
	assert.Positive(t, stats.Vectors)
	assert.Equal(t, 1, stats.TrackedFiles)
	assert.Zero(t, stats.PendingJobs)
}

func TestSyncRemovesMissing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateStore(ctx, "repo", "")
	require.NoError(t, err)
	_, err = svc.Index(ctx, "repo", []index.File{
		{Path: "auth/token.go", Content: authSource},
		{Path: "web/render.go", Content: authSource},
	}, false)
	require.NoError(t, err)
	require.NoError(t, svc.Drain(ctx))

	removed, err := svc.Sync(ctx, "repo", []string{"web/render.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.NoError(t, svc.Drain(ctx))

	stats, err := svc.StoreStats(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TrackedFiles)
}

func TestRunWorkerRejectedForClientOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Role = config.RoleClientOnly
	svc, err := New(cfg, slog.Default(), WithEncoder(stubEncoder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	err = svc.RunWorker(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))
}

func TestHealth(t *testing.T) {
	svc := newTestService(t)
	h := svc.Health(context.Background())
	assert.True(t, h.Inference)
	assert.True(t, h.Queue)
}
