package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/vector"
)

// Default per-modality candidate depths. The final limit is typically
// far smaller; the deep lists feed fusion.
const (
	DefaultSparseTopK = 200
	DefaultDenseTopK  = 80
)

// RawResults carries the two ranked lists plus per-leg timing. A leg
// that failed leaves its error set and its list nil; a missing
// collection is an empty list, not an error.
type RawResults struct {
	Sparse    []*lexical.Result
	Dense     []*vector.Result
	SparseErr error
	DenseErr  error

	EmbedTime  time.Duration
	SparseTime time.Duration
	DenseTime  time.Duration
}

// Coordinator fans a query out to the lexical index and the vector
// store in parallel.
type Coordinator struct {
	lexical *lexical.Index
	vectors vector.Store
	encoder infer.Encoder
	logger  *slog.Logger

	hybrid     bool
	sparseTopK int
	denseTopK  int
}

// NewCoordinator wires the retrieval legs.
func NewCoordinator(lex *lexical.Index, vectors vector.Store, encoder infer.Encoder, hybrid bool, sparseTopK, denseTopK int, logger *slog.Logger) *Coordinator {
	if sparseTopK <= 0 {
		sparseTopK = DefaultSparseTopK
	}
	if denseTopK <= 0 {
		denseTopK = DefaultDenseTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		lexical:    lex,
		vectors:    vectors,
		encoder:    encoder,
		logger:     logger,
		hybrid:     hybrid,
		sparseTopK: sparseTopK,
		denseTopK:  denseTopK,
	}
}

// Retrieve runs both legs and returns whatever succeeded. The caller
// decides how to treat a single failed leg; both legs failing is an
// error here.
func (c *Coordinator) Retrieve(ctx context.Context, store, query string, req *Request) (*RawResults, error) {
	raw := &RawResults{}

	lexFilters := &lexical.Filters{PathPrefix: req.PathPrefix, Languages: req.Languages}
	vecFilters := &vector.Filters{PathPrefix: req.PathPrefix, Languages: req.Languages}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legStart := time.Now()
		results, err := c.lexical.Search(gctx, store, query, c.sparseTopK, lexFilters)
		raw.SparseTime = time.Since(legStart)
		if err != nil {
			if errors.IsNotFound(err) {
				raw.Sparse = []*lexical.Result{}
				return nil
			}
			raw.SparseErr = err
			return nil
		}
		raw.Sparse = results
		return nil
	})

	g.Go(func() error {
		embedStart := time.Now()
		var (
			dense  []float32
			sparse map[string]float32
		)
		if c.hybrid {
			emb, err := c.encoder.EmbedBoth(gctx, []string{query})
			if err != nil {
				raw.DenseErr = err
				return nil
			}
			dense = emb.Dense[0]
			sparse = map[string]float32(emb.Sparse[0])
		} else {
			vecs, err := c.encoder.EmbedDense(gctx, []string{query})
			if err != nil {
				raw.DenseErr = err
				return nil
			}
			dense = vecs[0]
		}
		raw.EmbedTime = time.Since(embedStart)

		legStart := time.Now()
		var (
			results []*vector.Result
			err     error
		)
		if c.hybrid {
			results, err = c.vectors.HybridSearch(gctx, store, dense, sparse, c.denseTopK, vecFilters)
		} else {
			results, err = c.vectors.Search(gctx, store, dense, c.denseTopK, vecFilters)
		}
		raw.DenseTime = time.Since(legStart)
		if err != nil {
			if errors.IsNotFound(err) {
				raw.Dense = []*vector.Result{}
				return nil
			}
			raw.DenseErr = err
			return nil
		}
		raw.Dense = results
		return nil
	})

	_ = g.Wait()
	elapsed := time.Since(start)

	if raw.SparseErr != nil && raw.DenseErr != nil {
		return nil, errors.E(errors.KindUpstream, "search.Retrieve",
			"both retrieval legs failed: "+raw.SparseErr.Error()+"; "+raw.DenseErr.Error(), raw.DenseErr)
	}
	if raw.SparseErr != nil || raw.DenseErr != nil {
		legErr := raw.SparseErr
		if legErr == nil {
			legErr = raw.DenseErr
		}
		c.logger.Warn("retrieval_leg_failed",
			slog.String("store", store),
			slog.String("error", legErr.Error()))
	}

	c.logger.Debug("retrieval_done",
		slog.String("store", store),
		slog.Int("sparse_hits", len(raw.Sparse)),
		slog.Int("dense_hits", len(raw.Dense)),
		slog.Duration("elapsed", elapsed))
	return raw, nil
}
