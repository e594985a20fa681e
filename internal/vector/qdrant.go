package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/quarrysearch/quarry/internal/cache"
	"github.com/quarrysearch/quarry/internal/errors"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	// existsCacheTTL bounds how stale the collection-existence cache
	// may be.
	existsCacheTTL = 5 * time.Minute

	// serverFusionK is the RRF constant used by server-side fusion.
	serverFusionK = 60

	// scrollPageSize bounds one page of a payload scroll.
	scrollPageSize = 1000
)

// QdrantConfig configures the Qdrant adapter.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionPrefix maps store names to collection names.
	CollectionPrefix string

	// Dimension is the dense vector dimension; collections are created
	// with it and upserts validate against it.
	Dimension int

	// Hybrid also provisions the sparse-enabled collection.
	Hybrid bool

	// Timeout bounds one Qdrant call when the caller's context carries
	// no deadline of its own. Zero disables the bound.
	Timeout time.Duration
}

// QdrantStore implements Store against a Qdrant deployment.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *slog.Logger

	// exists caches collection-existence checks.
	exists *cache.Cache[bool]
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant over gRPC.
func NewQdrantStore(cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.InvalidArgument("vector.NewQdrantStore", "dimension must be positive")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Upstream("vector.NewQdrantStore", err)
	}

	return &QdrantStore{
		client: client,
		config: cfg,
		logger: logger,
		exists: cache.New[bool](cache.DefaultCapacity, existsCacheTTL),
	}, nil
}

// opCtx applies the configured per-call deadline.
func (s *QdrantStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}

// denseCollection maps an external store name to its dense collection.
func (s *QdrantStore) denseCollection(store string) string {
	return s.config.CollectionPrefix + store
}

// hybridCollection maps an external store name to its hybrid collection.
func (s *QdrantStore) hybridCollection(store string) string {
	return s.config.CollectionPrefix + "hybrid_" + store
}

// EnsureCollections creates the dense collection and, in hybrid mode,
// the hybrid collection.
func (s *QdrantStore) EnsureCollections(ctx context.Context, store string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.ensureDense(ctx, s.denseCollection(store)); err != nil {
		return err
	}
	if s.config.Hybrid {
		if err := s.ensureHybrid(ctx, s.hybridCollection(store)); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) hnswConfig() *qdrant.HnswConfigDiff {
	return &qdrant.HnswConfigDiff{
		M:           ptrU64(HnswM),
		EfConstruct: ptrU64(HnswEfConstruct),
	}
}

func (s *QdrantStore) ensureDense(ctx context.Context, name string) error {
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:       uint64(s.config.Dimension),
			Distance:   qdrant.Distance_Cosine,
			HnswConfig: s.hnswConfig(),
		}),
	})
	if err != nil {
		return errors.Upstream("vector.EnsureCollections", err)
	}

	s.exists.Set(name, true)
	s.logger.Info("collection_created",
		slog.String("collection", name),
		slog.Int("dimension", s.config.Dimension))
	return nil
}

func (s *QdrantStore) ensureHybrid(ctx context.Context, name string) error {
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:       uint64(s.config.Dimension),
				Distance:   qdrant.Distance_Cosine,
				HnswConfig: s.hnswConfig(),
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return errors.Upstream("vector.EnsureCollections", err)
	}

	s.exists.Set(name, true)
	s.logger.Info("collection_created",
		slog.String("collection", name),
		slog.Bool("hybrid", true))
	return nil
}

// DropCollections removes both collections; missing ones are no-ops.
func (s *QdrantStore) DropCollections(ctx context.Context, store string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	for _, name := range []string{s.denseCollection(store), s.hybridCollection(store)} {
		exists, err := s.collectionExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return errors.Upstream("vector.DropCollections", err)
		}
		s.exists.Set(name, false)
	}
	return nil
}

// CollectionExists reports whether the dense collection exists, served
// from a 5-minute cache.
func (s *QdrantStore) CollectionExists(ctx context.Context, store string) (bool, error) {
	return s.collectionExists(ctx, s.denseCollection(store))
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	if exists, ok := s.exists.Get(name); ok {
		return exists, nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, errors.Upstream("vector.CollectionExists", err)
	}
	s.exists.Set(name, exists)
	return exists, nil
}

// pointID derives a deterministic numeric point ID from a doc_id.
func pointID(docID string) uint64 {
	sum := sha256.Sum256([]byte(docID))
	return binary.LittleEndian.Uint64(sum[:8])
}

func pointPayload(p *Point) map[string]any {
	symbols, _ := json.Marshal(p.Symbols)
	return map[string]any{
		"doc_id":      p.DocID,
		"path":        p.Path,
		"language":    p.Language,
		"content":     p.Content,
		"symbols":     string(symbols),
		"start_line":  int64(p.StartLine),
		"end_line":    int64(p.EndLine),
		"chunk_index": int64(p.ChunkIndex),
	}
}

// Upsert deletes any points sharing the batch's doc_ids, then inserts.
// Delete-then-insert gives upsert semantics on the doc_id primary key
// even though the wire key is the derived numeric ID.
func (s *QdrantStore) Upsert(ctx context.Context, store string, points []*Point) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Dense) != s.config.Dimension {
			return errors.E(errors.KindInvalidArgument, "vector.Upsert",
				fmt.Sprintf("point %s has dimension %d, collection expects %d",
					p.DocID, len(p.Dense), s.config.Dimension), nil)
		}
	}

	if err := s.EnsureCollections(ctx, store); err != nil {
		return err
	}

	docIDs := make([]string, len(points))
	for i, p := range points {
		docIDs[i] = p.DocID
	}
	if err := s.DeleteByDocIDs(ctx, store, docIDs); err != nil {
		return err
	}

	dense := make([]*qdrant.PointStruct, 0, len(points))
	var hybrid []*qdrant.PointStruct
	for _, p := range points {
		payload := qdrant.NewValueMap(pointPayload(p))
		dense = append(dense, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(pointID(p.DocID)),
			Vectors: qdrant.NewVectors(p.Dense...),
			Payload: payload,
		})

		if s.config.Hybrid {
			indices, values := EncodeSparse(p.Sparse)
			hybrid = append(hybrid, &qdrant.PointStruct{
				Id: qdrant.NewIDNum(pointID(p.DocID)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					denseVectorName:  qdrant.NewVector(p.Dense...),
					sparseVectorName: qdrant.NewVectorSparse(indices, values),
				}),
				Payload: payload,
			})
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.denseCollection(store),
		Points:         dense,
	}); err != nil {
		return errors.Upstream("vector.Upsert", err)
	}

	if s.config.Hybrid {
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.hybridCollection(store),
			Points:         hybrid,
		}); err != nil {
			return errors.Upstream("vector.Upsert", err)
		}
	}
	return nil
}

func (s *QdrantStore) targetCollections(ctx context.Context, store string) ([]string, error) {
	var names []string
	for _, name := range []string{s.denseCollection(store), s.hybridCollection(store)} {
		exists, err := s.collectionExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if exists {
			names = append(names, name)
		}
	}
	return names, nil
}

// DeleteByDocIDs removes points by doc_id from every existing
// collection of the store.
func (s *QdrantStore) DeleteByDocIDs(ctx context.Context, store string, docIDs []string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if len(docIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(docIDs))
	for i, docID := range docIDs {
		ids[i] = qdrant.NewIDNum(pointID(docID))
	}

	collections, err := s.targetCollections(ctx, store)
	if err != nil {
		return err
	}
	for _, name := range collections {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		if err != nil {
			return errors.Upstream("vector.DeleteByDocIDs", err)
		}
	}
	return nil
}

// DeleteByPathPrefix removes points whose path starts with prefix.
// Server-side text match is token-based, not prefix-anchored, so the
// ids are resolved by scrolling payloads and matching client-side.
func (s *QdrantStore) DeleteByPathPrefix(ctx context.Context, store, prefix string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	collections, err := s.targetCollections(ctx, store)
	if err != nil {
		return err
	}
	for _, name := range collections {
		ids, err := s.idsByPathPrefix(ctx, name, prefix)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		if err != nil {
			return errors.Upstream("vector.DeleteByPathPrefix", err)
		}
	}
	return nil
}

// idsByPathPrefix scrolls a collection's path payloads and returns the
// ids whose path starts with prefix.
func (s *QdrantStore) idsByPathPrefix(ctx context.Context, collection, prefix string) ([]*qdrant.PointId, error) {
	var (
		ids    []*qdrant.PointId
		offset *qdrant.PointId
	)
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          ptrU32(scrollPageSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("path"),
		})
		if err != nil {
			return nil, errors.Upstream("vector.DeleteByPathPrefix", err)
		}
		ids = append(ids, prefixMatchedIDs(points, prefix)...)
		if next == nil || len(points) == 0 {
			return ids, nil
		}
		offset = next
	}
}

// prefixMatchedIDs selects the ids of points whose path payload is
// prefix-anchored, not merely token-matched.
func prefixMatchedIDs(points []*qdrant.RetrievedPoint, prefix string) []*qdrant.PointId {
	var ids []*qdrant.PointId
	for _, p := range points {
		if strings.HasPrefix(payloadString(p.Payload, "path"), prefix) {
			ids = append(ids, p.Id)
		}
	}
	return ids
}

func buildFilter(filters *Filters) *qdrant.Filter {
	if filters == nil {
		return nil
	}
	var must []*qdrant.Condition
	if filters.PathPrefix != "" {
		must = append(must, qdrant.NewMatchText("path", filters.PathPrefix))
	}
	if len(filters.Languages) > 0 {
		must = append(must, qdrant.NewMatchKeywords("language", filters.Languages...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search runs dense k-NN against the store's dense collection.
func (s *QdrantStore) Search(ctx context.Context, store string, dense []float32, topK int, filters *Filters) ([]*Result, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	name := s.denseCollection(store)
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NotFound("vector.Search", store, "collection does not exist")
	}

	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(dense),
		Limit:          ptrU64(uint64(topK)),
		Filter:         buildFilter(filters),
		Params: &qdrant.SearchParams{
			HnswEf: ptrU64(uint64(SearchEf(topK))),
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Upstream("vector.Search", err)
	}
	return scoredToResults(scored), nil
}

// HybridSearch fuses dense and sparse rankings server-side with RRF.
// Outside hybrid mode it degrades to dense search.
func (s *QdrantStore) HybridSearch(ctx context.Context, store string, dense []float32, sparse map[string]float32, topK int, filters *Filters) ([]*Result, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if !s.config.Hybrid {
		return s.Search(ctx, store, dense, topK, filters)
	}

	name := s.hybridCollection(store)
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NotFound("vector.HybridSearch", store, "hybrid collection does not exist")
	}

	indices, values := EncodeSparse(sparse)
	filter := buildFilter(filters)
	prefetchLimit := ptrU64(uint64(2 * topK))

	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(dense),
				Using:  ptrStr(denseVectorName),
				Limit:  prefetchLimit,
				Filter: filter,
				Params: &qdrant.SearchParams{HnswEf: ptrU64(uint64(SearchEf(topK)))},
			},
			{
				Query:  qdrant.NewQuerySparse(indices, values),
				Using:  ptrStr(sparseVectorName),
				Limit:  prefetchLimit,
				Filter: filter,
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       ptrU64(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Upstream("vector.HybridSearch", err)
	}
	return scoredToResults(scored), nil
}

// Count returns the point count of the dense collection, zero when the
// collection is missing.
func (s *QdrantStore) Count(ctx context.Context, store string) (uint64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	name := s.denseCollection(store)
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          ptrBool(true),
	})
	if err != nil {
		return 0, errors.Upstream("vector.Count", err)
	}
	return count, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func scoredToResults(scored []*qdrant.ScoredPoint) []*Result {
	results := make([]*Result, 0, len(scored))
	for i, point := range scored {
		r := &Result{
			Score: float64(point.GetScore()),
			Rank:  i + 1,
		}
		payload := point.GetPayload()
		r.DocID = payloadString(payload, "doc_id")
		r.Path = payloadString(payload, "path")
		r.Language = payloadString(payload, "language")
		r.Content = payloadString(payload, "content")
		r.StartLine = int(payloadInt(payload, "start_line"))
		r.EndLine = int(payloadInt(payload, "end_line"))
		if raw := payloadString(payload, "symbols"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &r.Symbols)
		}
		results = append(results, r)
	}
	return results
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func ptrU64(v uint64) *uint64 { return &v }
func ptrU32(v uint32) *uint32 { return &v }
func ptrStr(v string) *string { return &v }
func ptrBool(v bool) *bool    { return &v }
