package infer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedDense(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/encode", r.URL.Path)

		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnDense)
		assert.False(t, req.ReturnSparse)
		assert.True(t, req.Normalize)

		resp := encodeResponse{Dense: make([][]float32, len(req.Texts))}
		for i := range req.Texts {
			resp.Dense[i] = []float32{float32(i), 1, 2, 3}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 4})
	got, err := c.EmbedDense(context.Background(), []string{"func main", "type Foo"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{0, 1, 2, 3}, got[0])
	assert.Equal(t, []float32{1, 1, 2, 3}, got[1])
}

func TestEmbedDenseRejectsWrongDimension(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(encodeResponse{Dense: [][]float32{{1, 2}}})
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 4})
	_, err := c.EmbedDense(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, errors.KindUpstream, errors.KindOf(err))
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedDenseRejectsCountMismatch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(encodeResponse{Dense: [][]float32{{1, 2, 3, 4}}})
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 4})
	_, err := c.EmbedDense(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestEmbedBoth(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnDense)
		assert.True(t, req.ReturnSparse)

		_ = json.NewEncoder(w).Encode(encodeResponse{
			Dense:  [][]float32{{1, 0}},
			Sparse: []map[string]float32{{"123": 0.5, "456": 0.25}},
		})
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 2})
	got, err := c.EmbedBoth(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, got.Sparse, 1)
	assert.InDelta(t, 0.5, got.Sparse[0]["123"], 1e-6)
}

func TestEmbedEmptyInputSkipsNetwork(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1", Dimension: 4})

	dense, err := c.EmbedDense(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, dense)

	both, err := c.EmbedBoth(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, both.Dense)
}

func TestRerankSortsByScore(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "parse config", req.Query)

		// Unsorted on purpose: callers must honor the index field.
		_, _ = w.Write([]byte(`{"results":[
			{"index":0,"score":0.2},
			{"index":2,"score":0.9},
			{"index":1,"score":0.5}
		]}`))
	})

	c := NewClient(Config{Endpoint: srv.URL})
	got, err := c.Rerank(context.Background(), "parse config", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"score":0.9}]}`))
	})

	c := NewClient(Config{Endpoint: srv.URL})
	_, err := c.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestRerankTimesOut(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	c := NewClient(Config{Endpoint: srv.URL, RerankTimeout: 30 * time.Millisecond})
	start := time.Now()
	_, err := c.Rerank(context.Background(), "q", []string{"a", "b"}, 0)
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond, "rerank must honor its hard deadline")
}

func TestRerankWithFallbackPreservesInputOrder(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1", RerankTimeout: 20 * time.Millisecond})

	got := c.RerankWithFallback(context.Background(), "q", []string{"a", "b", "c"}, 0)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i, r.Index)
		if i > 0 {
			assert.Less(t, r.Score, got[i-1].Score, "fallback scores must decrease")
		}
	}
}

func TestEmbedOpenAI(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3,0.4]}]}`))
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 2})
	got, err := c.EmbedOpenAI(context.Background(), "bge-m3", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.3, got[1][0], 1e-6)
}

func TestHealthy(t *testing.T) {
	healthy := true
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	c := NewClient(Config{Endpoint: srv.URL})
	assert.True(t, c.Healthy(context.Background()))

	healthy = false
	assert.False(t, c.Healthy(context.Background()))
}

func TestServerErrorIsUpstream(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	c := NewClient(Config{Endpoint: srv.URL, Dimension: 4})
	_, err := c.EmbedDense(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, errors.KindUpstream, errors.KindOf(err))
	assert.Contains(t, err.Error(), "model not loaded")
}
