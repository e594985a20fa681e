package infer

import (
	"bytes"
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/quarrysearch/quarry/internal/errors"
)

// Config configures the inference client.
type Config struct {
	// Endpoint is the base URL of the inference service.
	Endpoint string

	// Dimension is the expected dense embedding dimension. Responses
	// with a different dimension are rejected as upstream errors.
	Dimension int

	// QueryTimeout applies to encode calls when the caller's context
	// carries no deadline. Indexing callers pass IndexTimeout contexts.
	QueryTimeout time.Duration

	// RerankTimeout is the hard deadline raced against every rerank call.
	RerankTimeout time.Duration

	// HealthTimeout bounds health checks.
	HealthTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:8080"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = 100 * time.Millisecond
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
}

// Client talks to the inference service over HTTP.
type Client struct {
	client *http.Client
	config Config
}

var _ Encoder = (*Client)(nil)

// NewClient creates an inference client with a keep-alive connection
// pool. No socket cap is imposed: the service schedules requests FIFO
// and the indexing pipeline is the only high-fanout caller.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()

	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	// No http.Client.Timeout: it would override per-request context
	// deadlines, including the rerank hard deadline.
	return &Client{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// Dimension returns the configured dense embedding dimension.
func (c *Client) Dimension() int {
	return c.config.Dimension
}

// encodeRequest is the wire format of POST /encode.
type encodeRequest struct {
	Texts         []string `json:"texts"`
	ReturnDense   bool     `json:"return_dense"`
	ReturnSparse  bool     `json:"return_sparse"`
	ReturnColbert bool     `json:"return_colbert"`
	Normalize     bool     `json:"normalize"`
}

type encodeResponse struct {
	Dense  [][]float32          `json:"dense,omitempty"`
	Sparse []map[string]float32 `json:"sparse,omitempty"`
}

// EmbedDense returns one L2-normalized dense vector per text.
func (c *Client) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := c.encode(ctx, texts, true, false)
	if err != nil {
		return nil, err
	}
	if err := c.checkDense(texts, resp.Dense); err != nil {
		return nil, err
	}
	return resp.Dense, nil
}

// EmbedSparse returns one sparse weight map per text.
func (c *Client) EmbedSparse(ctx context.Context, texts []string) ([]Sparse, error) {
	if len(texts) == 0 {
		return []Sparse{}, nil
	}
	resp, err := c.encode(ctx, texts, false, true)
	if err != nil {
		return nil, err
	}
	if len(resp.Sparse) != len(texts) {
		return nil, errors.E(errors.KindUpstream, "infer.encode",
			fmt.Sprintf("sparse count mismatch: sent %d texts, got %d embeddings", len(texts), len(resp.Sparse)), nil)
	}
	return toSparse(resp.Sparse), nil
}

// EmbedBoth returns dense and sparse embeddings from a single call.
func (c *Client) EmbedBoth(ctx context.Context, texts []string) (*Embeddings, error) {
	if len(texts) == 0 {
		return &Embeddings{Dense: [][]float32{}, Sparse: []Sparse{}}, nil
	}
	resp, err := c.encode(ctx, texts, true, true)
	if err != nil {
		return nil, err
	}
	if err := c.checkDense(texts, resp.Dense); err != nil {
		return nil, err
	}
	if len(resp.Sparse) != len(texts) {
		return nil, errors.E(errors.KindUpstream, "infer.encode",
			fmt.Sprintf("sparse count mismatch: sent %d texts, got %d embeddings", len(texts), len(resp.Sparse)), nil)
	}
	return &Embeddings{Dense: resp.Dense, Sparse: toSparse(resp.Sparse)}, nil
}

func (c *Client) encode(ctx context.Context, texts []string, dense, sparse bool) (*encodeResponse, error) {
	req := encodeRequest{
		Texts:        texts,
		ReturnDense:  dense,
		ReturnSparse: sparse,
		Normalize:    true,
	}

	ctx, cancel := c.withDefaultDeadline(ctx, c.config.QueryTimeout)
	defer cancel()

	var resp encodeResponse
	if err := c.post(ctx, "/encode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) checkDense(texts []string, dense [][]float32) error {
	if len(dense) != len(texts) {
		return errors.E(errors.KindUpstream, "infer.encode",
			fmt.Sprintf("dense count mismatch: sent %d texts, got %d embeddings", len(texts), len(dense)), nil)
	}
	if c.config.Dimension > 0 {
		for i, v := range dense {
			if len(v) != c.config.Dimension {
				return errors.E(errors.KindUpstream, "infer.encode",
					fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(v), c.config.Dimension), nil)
			}
		}
	}
	return nil
}

// rerankRequest is the wire format of POST /rerank.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index    int     `json:"index"`
		Score    float64 `json:"score"`
		Document string  `json:"document,omitempty"`
	} `json:"results"`
}

// Rerank scores documents against the query with the configured hard
// deadline. Results arrive in service order; they are re-sorted by
// score descending here, honoring Index to map back.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RerankTimeout)
	defer cancel()

	var resp rerankResponse
	if err := c.post(ctx, "/rerank", rerankRequest{Query: query, Documents: documents, TopK: topK}, &resp); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, errors.E(errors.KindUpstream, "infer.rerank",
				fmt.Sprintf("result index %d out of range for %d documents", r.Index, len(documents)), nil)
		}
		results = append(results, RerankResult{Index: r.Index, Score: r.Score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// RerankWithFallback degrades to the input order with synthetic
// decreasing scores when the service fails or misses the deadline.
func (c *Client) RerankWithFallback(ctx context.Context, query string, documents []string, topK int) []RerankResult {
	results, err := c.Rerank(ctx, query, documents, topK)
	if err == nil {
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

// embeddingsRequest is the OpenAI-shaped alternative endpoint.
type embeddingsRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedOpenAI calls POST /embeddings for deployments that only expose
// the OpenAI-compatible surface.
func (c *Client) EmbedOpenAI(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := c.withDefaultDeadline(ctx, c.config.QueryTimeout)
	defer cancel()

	var resp embeddingsResponse
	if err := c.post(ctx, "/embeddings", embeddingsRequest{Model: model, Input: texts}, &resp); err != nil {
		return nil, err
	}

	dense := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		dense[i] = d.Embedding
	}
	if err := c.checkDense(texts, dense); err != nil {
		return nil, err
	}
	return dense, nil
}

// Healthy reports whether GET /health answers 200.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// post sends a JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Internal("infer.post", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Internal("infer.post", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return errors.Timeout("infer"+path, err)
		}
		return errors.Upstream("infer"+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.E(errors.KindUpstream, "infer"+path,
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(msg)), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Upstream("infer"+path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// withDefaultDeadline applies d only when ctx carries no deadline.
func (c *Client) withDefaultDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toSparse(raw []map[string]float32) []Sparse {
	out := make([]Sparse, len(raw))
	for i, m := range raw {
		out[i] = Sparse(m)
	}
	return out
}
