package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"github.com/quarrysearch/quarry/internal/errors"
)

// LocalStore is an in-process Store backed by coder/hnsw. It serves
// development and test deployments that run without a Qdrant instance;
// nothing is persisted.
type LocalStore struct {
	dimension int
	hybrid    bool

	mu     sync.RWMutex
	stores map[string]*localCollection
}

var _ Store = (*LocalStore)(nil)

// localCollection is one store's graph plus point metadata.
type localCollection struct {
	graph *hnsw.Graph[uint64]

	points  map[string]*Point  // doc_id -> point
	keys    map[uint64]string  // graph key -> doc_id
	byDocID map[string]uint64  // doc_id -> graph key
	nextKey uint64
}

// NewLocalStore creates an in-memory vector store.
func NewLocalStore(dimension int, hybrid bool) (*LocalStore, error) {
	if dimension <= 0 {
		return nil, errors.InvalidArgument("vector.NewLocalStore", "dimension must be positive")
	}
	return &LocalStore{
		dimension: dimension,
		hybrid:    hybrid,
		stores:    make(map[string]*localCollection),
	}, nil
}

func newLocalCollection() *localCollection {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = HnswM
	graph.EfSearch = MinSearchEf
	return &localCollection{
		graph:   graph,
		points:  make(map[string]*Point),
		keys:    make(map[uint64]string),
		byDocID: make(map[string]uint64),
	}
}

// EnsureCollections creates the store's in-memory collection.
func (s *LocalStore) EnsureCollections(_ context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[store]; !ok {
		s.stores[store] = newLocalCollection()
	}
	return nil
}

// DropCollections discards the store's collection.
func (s *LocalStore) DropCollections(_ context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores, store)
	return nil
}

// CollectionExists reports whether the store has a collection.
func (s *LocalStore) CollectionExists(_ context.Context, store string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[store]
	return ok, nil
}

// Upsert inserts points, replacing existing doc_ids. Replacement uses
// lazy deletion: the old graph node is orphaned rather than removed.
func (s *LocalStore) Upsert(_ context.Context, store string, points []*Point) error {
	for _, p := range points {
		if len(p.Dense) != s.dimension {
			return errors.E(errors.KindInvalidArgument, "vector.Upsert",
				fmt.Sprintf("point %s has dimension %d, store expects %d",
					p.DocID, len(p.Dense), s.dimension), nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.stores[store]
	if !ok {
		col = newLocalCollection()
		s.stores[store] = col
	}

	for _, p := range points {
		if oldKey, exists := col.byDocID[p.DocID]; exists {
			delete(col.keys, oldKey)
		}

		vec := make([]float32, len(p.Dense))
		copy(vec, p.Dense)
		normalize(vec)

		key := col.nextKey
		col.nextKey++
		col.graph.Add(hnsw.MakeNode(key, vec))

		copied := *p
		col.points[p.DocID] = &copied
		col.keys[key] = p.DocID
		col.byDocID[p.DocID] = key
	}
	return nil
}

// DeleteByDocIDs removes points by doc_id.
func (s *LocalStore) DeleteByDocIDs(_ context.Context, store string, docIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.stores[store]
	if !ok {
		return nil
	}
	for _, docID := range docIDs {
		if key, exists := col.byDocID[docID]; exists {
			delete(col.keys, key)
			delete(col.byDocID, docID)
			delete(col.points, docID)
		}
	}
	return nil
}

// DeleteByPathPrefix removes every point whose path starts with prefix.
func (s *LocalStore) DeleteByPathPrefix(_ context.Context, store, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.stores[store]
	if !ok {
		return nil
	}
	for docID, p := range col.points {
		if strings.HasPrefix(p.Path, prefix) {
			if key, exists := col.byDocID[docID]; exists {
				delete(col.keys, key)
			}
			delete(col.byDocID, docID)
			delete(col.points, docID)
		}
	}
	return nil
}

// Search runs dense k-NN over the graph.
func (s *LocalStore) Search(_ context.Context, store string, dense []float32, topK int, filters *Filters) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.stores[store]
	if !ok {
		return nil, errors.NotFound("vector.Search", store, "collection does not exist")
	}
	if len(dense) != s.dimension {
		return nil, errors.InvalidArgument("vector.Search",
			fmt.Sprintf("query dimension %d, store expects %d", len(dense), s.dimension))
	}
	if col.graph.Len() == 0 {
		return []*Result{}, nil
	}

	query := make([]float32, len(dense))
	copy(query, dense)
	normalize(query)

	// Overfetch to compensate for orphaned nodes and filtered hits.
	nodes := col.graph.Search(query, 3*topK+MinSearchEf)

	results := make([]*Result, 0, topK)
	for _, node := range nodes {
		docID, live := col.keys[node.Key]
		if !live {
			continue
		}
		p := col.points[docID]
		if !matchesFilters(p, filters) {
			continue
		}

		score := 1 - float64(col.graph.Distance(query, node.Value))
		results = append(results, pointResult(p, score, len(results)+1))
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// HybridSearch fuses the dense ranking with a brute-force sparse
// ranking using RRF, mirroring the server-side fusion of the Qdrant
// backend.
func (s *LocalStore) HybridSearch(ctx context.Context, store string, dense []float32, sparse map[string]float32, topK int, filters *Filters) ([]*Result, error) {
	if !s.hybrid || len(sparse) == 0 {
		return s.Search(ctx, store, dense, topK, filters)
	}

	denseResults, err := s.Search(ctx, store, dense, 2*topK, filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	col, ok := s.stores[store]
	if !ok {
		s.mu.RUnlock()
		return nil, errors.NotFound("vector.HybridSearch", store, "collection does not exist")
	}

	queryIdx, queryVals := EncodeSparse(sparse)
	queryWeights := make(map[uint32]float32, len(queryIdx))
	for i, idx := range queryIdx {
		queryWeights[idx] = queryVals[i]
	}

	type sparseHit struct {
		point *Point
		score float64
	}
	var sparseHits []sparseHit
	for _, p := range col.points {
		if !matchesFilters(p, filters) {
			continue
		}
		if dot := sparseDot(queryWeights, p.Sparse); dot > 0 {
			sparseHits = append(sparseHits, sparseHit{point: p, score: dot})
		}
	}
	s.mu.RUnlock()

	sort.Slice(sparseHits, func(i, j int) bool {
		if sparseHits[i].score != sparseHits[j].score {
			return sparseHits[i].score > sparseHits[j].score
		}
		return sparseHits[i].point.DocID < sparseHits[j].point.DocID
	})
	if len(sparseHits) > 2*topK {
		sparseHits = sparseHits[:2*topK]
	}

	// RRF over the two rankings.
	type fused struct {
		point *Point
		score float64
	}
	byDocID := make(map[string]*fused)
	for rank, r := range denseResults {
		s.mu.RLock()
		p := col.points[r.DocID]
		s.mu.RUnlock()
		if p == nil {
			continue
		}
		byDocID[r.DocID] = &fused{point: p, score: 1.0 / float64(serverFusionK+rank+1)}
	}
	for rank, hit := range sparseHits {
		contribution := 1.0 / float64(serverFusionK+rank+1)
		if f, ok := byDocID[hit.point.DocID]; ok {
			f.score += contribution
		} else {
			byDocID[hit.point.DocID] = &fused{point: hit.point, score: contribution}
		}
	}

	all := make([]*fused, 0, len(byDocID))
	for _, f := range byDocID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].point.DocID < all[j].point.DocID
	})
	if len(all) > topK {
		all = all[:topK]
	}

	results := make([]*Result, len(all))
	for i, f := range all {
		results[i] = pointResult(f.point, f.score, i+1)
	}
	return results, nil
}

// Count returns the number of live points.
func (s *LocalStore) Count(_ context.Context, store string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.stores[store]
	if !ok {
		return 0, nil
	}
	return uint64(len(col.points)), nil
}

// Close is a no-op; nothing is persisted.
func (s *LocalStore) Close() error {
	return nil
}

func matchesFilters(p *Point, filters *Filters) bool {
	if filters == nil {
		return true
	}
	if filters.PathPrefix != "" && !strings.Contains(p.Path, filters.PathPrefix) {
		return false
	}
	if len(filters.Languages) > 0 {
		found := false
		for _, lang := range filters.Languages {
			if p.Language == lang {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func pointResult(p *Point, score float64, rank int) *Result {
	return &Result{
		DocID:     p.DocID,
		Path:      p.Path,
		Language:  p.Language,
		Content:   p.Content,
		Symbols:   p.Symbols,
		StartLine: p.StartLine,
		EndLine:   p.EndLine,
		Score:     score,
		Rank:      rank,
	}
}

func sparseDot(query map[uint32]float32, doc map[string]float32) float64 {
	if len(doc) == 0 {
		return 0
	}
	docIdx, docVals := EncodeSparse(doc)
	var dot float64
	for i, idx := range docIdx {
		if w, ok := query[idx]; ok {
			dot += float64(w) * float64(docVals[i])
		}
	}
	return dot
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
