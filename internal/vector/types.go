// Package vector is the vector store adapter. Each store maps to a
// dense collection and, in hybrid mode, a second collection carrying a
// sparse vector alongside the dense one for server-side fusion.
package vector

import "context"

// HNSW build parameters shared by both backends.
const (
	HnswM           = 16
	HnswEfConstruct = 200
	// MinSearchEf floors the search-time ef; the effective value is
	// max(MinSearchEf, 2*topK).
	MinSearchEf = 64
)

// SearchEf returns the ef parameter for a given candidate depth.
func SearchEf(topK int) int {
	if ef := 2 * topK; ef > MinSearchEf {
		return ef
	}
	return MinSearchEf
}

// Point is one chunk as stored in a collection.
type Point struct {
	DocID string

	Dense []float32
	// Sparse is the learned sparse embedding, empty outside hybrid mode.
	Sparse map[string]float32

	Path       string
	Language   string
	Content    string
	Symbols    []string
	StartLine  int
	EndLine    int
	ChunkIndex int
}

// Result is one vector hit.
type Result struct {
	DocID     string
	Path      string
	Language  string
	Content   string
	Symbols   []string
	StartLine int
	EndLine   int
	Score     float64
	Rank      int // 1-based position in the ranking
}

// Filters narrows a search.
type Filters struct {
	// PathPrefix keeps documents whose path contains it.
	PathPrefix string
	// Languages keeps documents in one of the listed languages.
	Languages []string
}

// Store is the vector store contract consumed by the indexing pipeline
// and the retriever.
type Store interface {
	// EnsureCollections creates the store's collections if missing.
	EnsureCollections(ctx context.Context, store string) error

	// DropCollections removes the store's collections.
	DropCollections(ctx context.Context, store string) error

	// CollectionExists reports whether the dense collection exists.
	// Implementations may serve from a short-lived local cache.
	CollectionExists(ctx context.Context, store string) (bool, error)

	// Upsert inserts points, replacing any existing point with the same
	// DocID.
	Upsert(ctx context.Context, store string, points []*Point) error

	// DeleteByDocIDs removes points by DocID.
	DeleteByDocIDs(ctx context.Context, store string, docIDs []string) error

	// DeleteByPathPrefix removes every point whose path starts with prefix.
	DeleteByPathPrefix(ctx context.Context, store, prefix string) error

	// Search runs dense k-NN. A store with no collection returns a
	// NotFound error; callers on the read path map it to empty results.
	Search(ctx context.Context, store string, dense []float32, topK int, filters *Filters) ([]*Result, error)

	// HybridSearch fuses dense and sparse rankings server-side where
	// supported.
	HybridSearch(ctx context.Context, store string, dense []float32, sparse map[string]float32, topK int, filters *Filters) ([]*Result, error)

	// Count returns the number of points in the dense collection.
	Count(ctx context.Context, store string) (uint64, error)

	Close() error
}
