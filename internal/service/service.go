// Package service assembles the indexing and search components from
// configuration and exposes the operations the CLI and embedders call.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/queue"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/telemetry"
	"github.com/quarrysearch/quarry/internal/tracker"
	"github.com/quarrysearch/quarry/internal/vector"
	"github.com/quarrysearch/quarry/pkg/version"
)

// Service owns every component for one quarry deployment. A process in
// the processor role additionally drains the job queues via RunWorker.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	encoder  infer.Encoder
	chunker  *chunk.Chunker
	tracker  *tracker.Tracker
	registry *tracker.Registry
	lexical  *lexical.Index
	vectors  vector.Store
	queue    *queue.Queue
	pipeline *index.Pipeline
	recorder *telemetry.Recorder
	engine   *search.Engine

	// closers are shut down in reverse order on Close.
	closers []io.Closer
}

// Option overrides a component before wiring, used by tests to inject
// fakes for the network-facing pieces.
type Option func(*Service)

// WithEncoder replaces the HTTP inference client.
func WithEncoder(enc infer.Encoder) Option {
	return func(s *Service) { s.encoder = enc }
}

// WithVectorStore replaces the configured vector backend.
func WithVectorStore(store vector.Store) Option {
	return func(s *Service) { s.vectors = store }
}

// New builds a service from configuration. Every component failure
// during wiring tears down what was already opened.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if s.encoder == nil {
		client := infer.NewClient(infer.Config{
			Endpoint:      cfg.Inference.Endpoint,
			Dimension:     cfg.Inference.Dimension,
			QueryTimeout:  cfg.Inference.QueryTimeout,
			RerankTimeout: cfg.Inference.RerankTimeout,
			HealthTimeout: cfg.Inference.HealthTimeout,
		})
		s.closers = append(s.closers, client)
		s.encoder = infer.NewCachedEncoder(client, cfg.Inference.CacheSize, cfg.Inference.CacheTTL)
	}

	s.chunker = chunk.NewChunker(chunk.Options{
		MaxASTBytes:     cfg.Chunking.MaxASTBytes,
		MinChunkLines:   cfg.Chunking.MinChunkLines,
		FallbackLines:   cfg.Chunking.FallbackLines,
		FallbackOverlap: cfg.Chunking.FallbackOverlap,
	})

	track, err := tracker.New(cfg.TrackingDir())
	if err != nil {
		s.teardown()
		return nil, err
	}
	s.tracker = track
	s.closers = append(s.closers, track)

	registry, err := tracker.NewRegistry(cfg.TrackingDir())
	if err != nil {
		s.teardown()
		return nil, err
	}
	s.registry = registry

	lex, err := lexical.NewIndex(cfg.Lexical.Root, logger)
	if err != nil {
		s.teardown()
		return nil, err
	}
	s.lexical = lex
	s.closers = append(s.closers, lex)

	if s.vectors == nil {
		vectors, err := openVectorStore(cfg, logger)
		if err != nil {
			s.teardown()
			return nil, err
		}
		s.vectors = vectors
		s.closers = append(s.closers, vectors)
	}

	db, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		s.teardown()
		return nil, err
	}
	q, err := queue.New(db, logger, queue.WithRetainCompleted(cfg.Queue.RetainCompleted))
	if err != nil {
		_ = db.Close()
		s.teardown()
		return nil, err
	}
	s.queue = q
	s.closers = append(s.closers, q)

	s.pipeline = index.NewPipeline(s.chunker, s.tracker, s.lexical, s.vectors, s.encoder, s.queue, logger,
		index.Options{
			Hybrid:          cfg.Vector.Hybrid,
			VectorBatchSize: cfg.Queue.VectorBatchSize,
			EmbedBatchSize:  cfg.Inference.BatchSize,
			EmbedTimeout:    cfg.Inference.IndexTimeout,
		})

	s.recorder = telemetry.NewRecorder(cfg.Telemetry.RingSize)

	coordinator := search.NewCoordinator(s.lexical, s.vectors, s.encoder,
		cfg.Vector.Hybrid, cfg.Search.SparseTopK, cfg.Search.DenseTopK, logger)
	fuser := search.NewFuser(search.FusionConfig{
		SparseWeight:        cfg.Search.SparseWeight,
		DenseWeight:         cfg.Search.DenseWeight,
		K:                   cfg.Search.RRFConstant,
		SymbolBoost:         cfg.Search.SymbolBoost,
		PathBoost:           cfg.Search.PathBoost,
		ConfidenceWeighting: cfg.Search.ConfidenceWeighting,
		MaxWeightBoost:      cfg.Search.MaxWeightBoost,
		MinWeight:           cfg.Search.MinWeight,
	})
	reranker := search.NewReranker(s.encoder, cfg.Inference.RerankTimeout, cfg.Search.RerankCandidates, logger)
	s.engine = search.NewEngine(coordinator, fuser, reranker, s.recorder, logger, search.EngineConfig{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		Rerank:       cfg.Search.Rerank,
	})

	logger.Info("service_ready",
		slog.String("role", string(cfg.Role)),
		slog.String("vector_backend", cfg.Vector.Backend),
		slog.Bool("hybrid", cfg.Vector.Hybrid),
		slog.String("version", version.Short()))
	return s, nil
}

func openVectorStore(cfg *config.Config, logger *slog.Logger) (vector.Store, error) {
	if cfg.Vector.Backend == "local" {
		return vector.NewLocalStore(cfg.Inference.Dimension, cfg.Vector.Hybrid)
	}
	return vector.NewQdrantStore(vector.QdrantConfig{
		Host:             cfg.Vector.Host,
		Port:             cfg.Vector.Port,
		APIKey:           cfg.Vector.APIKey,
		UseTLS:           cfg.Vector.UseTLS,
		CollectionPrefix: cfg.Vector.CollectionPrefix,
		Dimension:        cfg.Inference.Dimension,
		Hybrid:           cfg.Vector.Hybrid,
		Timeout:          cfg.Vector.Timeout,
	}, logger)
}

// timed logs the duration of one service operation.
func (s *Service) timed(op string, start time.Time) {
	s.logger.Debug("op_done",
		slog.String("op", op),
		slog.Duration("took", time.Since(start)))
}

// CreateStore registers a store and provisions its collections.
func (s *Service) CreateStore(ctx context.Context, name, description string) (*tracker.Store, error) {
	defer s.timed("create_store", time.Now())
	store, err := s.registry.Create(name, description)
	if err != nil {
		return nil, err
	}
	if err := s.vectors.EnsureCollections(ctx, name); err != nil {
		return nil, err
	}
	s.logger.Info("store_created", slog.String("store", name))
	return store, nil
}

// DeleteStore removes a store and every layer of its data.
func (s *Service) DeleteStore(ctx context.Context, name string) error {
	defer s.timed("delete_store", time.Now())
	if err := s.registry.Remove(name); err != nil {
		return err
	}
	if err := s.vectors.DropCollections(ctx, name); err != nil {
		return err
	}
	if err := s.lexical.DropStore(name); err != nil {
		return err
	}
	if err := s.tracker.Delete(name); err != nil {
		return err
	}
	s.logger.Info("store_deleted", slog.String("store", name))
	return nil
}

// ListStores returns registered stores sorted by name.
func (s *Service) ListStores() ([]*tracker.Store, error) {
	return s.registry.List()
}

// Index enqueues indexing work for files under a registered store.
func (s *Service) Index(ctx context.Context, store string, files []index.File, force bool) (*index.Result, error) {
	defer s.timed("index", time.Now())
	if err := s.ensureStore(ctx, store); err != nil {
		return nil, err
	}
	res, err := s.pipeline.Index(ctx, store, files, force)
	if err != nil {
		return nil, err
	}
	_ = s.registry.Touch(store)
	return res, nil
}

// Reindex drops the store's data and indexes files from scratch.
func (s *Service) Reindex(ctx context.Context, store string, files []index.File) (*index.Result, error) {
	defer s.timed("reindex", time.Now())
	if _, err := s.registry.Get(store); err != nil {
		return nil, err
	}
	res, err := s.pipeline.Reindex(ctx, store, files)
	if err != nil {
		return nil, err
	}
	if err := s.vectors.EnsureCollections(ctx, store); err != nil {
		return nil, err
	}
	_ = s.registry.Touch(store)
	return res, nil
}

// Delete enqueues removal of paths from every layer.
func (s *Service) Delete(ctx context.Context, store string, paths ...string) error {
	if _, err := s.registry.Get(store); err != nil {
		return err
	}
	_, err := s.pipeline.Delete(ctx, store, paths...)
	return err
}

// DeleteByPrefix enqueues removal of every path under prefix.
func (s *Service) DeleteByPrefix(ctx context.Context, store, prefix string) error {
	if _, err := s.registry.Get(store); err != nil {
		return err
	}
	_, err := s.pipeline.DeleteByPrefix(ctx, store, prefix)
	return err
}

// Sync removes tracked files absent from currentPaths and returns how
// many were scheduled for removal.
func (s *Service) Sync(ctx context.Context, store string, currentPaths []string) (int, error) {
	defer s.timed("sync", time.Now())
	if _, err := s.registry.Get(store); err != nil {
		return 0, err
	}
	return s.pipeline.Sync(ctx, store, currentPaths)
}

// Search runs one query through the full pipeline.
func (s *Service) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	defer s.timed("search", time.Now())
	if _, err := s.registry.Get(req.Store); err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, req)
}

// StoreStats summarizes one store across every layer.
type StoreStats struct {
	Name         string `json:"name"`
	Documents    int    `json:"documents"`
	Vectors      uint64 `json:"vectors"`
	TrackedFiles int    `json:"tracked_files"`
	PendingJobs  int    `json:"pending_jobs"`
}

// StoreStats gathers per-layer counts for a store.
func (s *Service) StoreStats(ctx context.Context, store string) (*StoreStats, error) {
	if _, err := s.registry.Get(store); err != nil {
		return nil, err
	}
	stats := &StoreStats{Name: store}

	if lexStats, err := s.lexical.Stats(store); err == nil {
		stats.Documents = lexStats.NumDocs
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	if count, err := s.vectors.Count(ctx, store); err == nil {
		stats.Vectors = count
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	tracked, err := s.tracker.TrackedFiles(store)
	if err != nil {
		return nil, err
	}
	stats.TrackedFiles = len(tracked)

	for _, name := range []string{queue.EmbedQueue, queue.LexicalQueue(store)} {
		n, err := s.queue.Pending(ctx, name)
		if err != nil {
			return nil, err
		}
		stats.PendingJobs += n
	}
	return stats, nil
}

// Health reports per-component liveness.
type Health struct {
	Inference bool `json:"inference"`
	Queue     bool `json:"queue"`
}

// Health probes the inference service and the job queue.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Inference: s.encoder.Healthy(ctx)}
	if _, err := s.queue.Pending(ctx, queue.EmbedQueue); err == nil {
		h.Queue = true
	}
	return h
}

// Telemetry exposes the query recorder.
func (s *Service) Telemetry() *telemetry.Recorder {
	return s.recorder
}

// RerankStats exposes the reranker counters.
func (s *Service) RerankStats() search.RerankStats {
	return s.engine.RerankStats()
}

// RunWorker drains the job queues until ctx is cancelled. Only
// processor-role deployments run workers.
func (s *Service) RunWorker(ctx context.Context) error {
	if s.cfg.Role != config.RoleProcessor {
		return errors.InvalidArgument("service.RunWorker",
			fmt.Sprintf("role %q does not process jobs", s.cfg.Role))
	}
	dispatcher := queue.NewDispatcher(s.queue, s.pipeline.HandleJob, s.logger, 0)
	return dispatcher.Run(ctx)
}

// Drain processes every pending job synchronously. Commands that both
// enqueue and expect visible results use it instead of a long-running
// worker.
func (s *Service) Drain(ctx context.Context) error {
	for {
		names, err := s.queue.Queues(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		idle := true
		for _, name := range names {
			for {
				job, err := s.queue.Dequeue(ctx, name)
				if err != nil {
					return err
				}
				if job == nil {
					break
				}
				idle = false
				if herr := s.pipeline.HandleJob(ctx, job); herr != nil {
					if ferr := s.queue.Fail(ctx, job, herr); ferr != nil {
						return ferr
					}
					continue
				}
				if err := s.queue.Complete(ctx, job); err != nil {
					return err
				}
			}
		}
		if idle {
			// Remaining jobs are backing off; wait out the window.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// Version reports the build version.
func (s *Service) Version() string {
	return version.Short()
}

// ensureStore verifies registration and provisions collections so that
// first-index and post-restore runs do not race collection creation in
// the embed worker.
func (s *Service) ensureStore(ctx context.Context, store string) error {
	if _, err := s.registry.Get(store); err != nil {
		return err
	}
	return s.vectors.EnsureCollections(ctx, store)
}

func (s *Service) teardown() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
	if s.chunker != nil {
		s.chunker.Close()
	}
}

// Close shuts every component down in reverse wiring order.
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.chunker != nil {
		s.chunker.Close()
	}
	return first
}
