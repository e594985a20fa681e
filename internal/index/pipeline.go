package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/queue"
	"github.com/quarrysearch/quarry/internal/tracker"
	"github.com/quarrysearch/quarry/internal/vector"
)

// Pipeline defaults.
const (
	// DefaultVectorBatchSize caps points per vector-store commit.
	DefaultVectorBatchSize = 3000
	// DefaultEmbedBatchSize caps texts per encode request.
	DefaultEmbedBatchSize = 32
	// DefaultEmbedTimeout bounds one indexing-time encode call.
	DefaultEmbedTimeout = 300 * time.Second
)

// Options configures the pipeline.
type Options struct {
	// Hybrid selects sparse+dense embedding and hybrid collections.
	Hybrid bool
	// VectorBatchSize caps points per vector upsert; zero selects the
	// default of 3000.
	VectorBatchSize int
	// EmbedBatchSize caps texts per encode request; zero selects the
	// default of 32.
	EmbedBatchSize int
	// EmbedTimeout is the deadline for one encode request on the index
	// path; zero selects the default of 300s.
	EmbedTimeout time.Duration
}

// Pipeline turns files into searchable chunks. Enqueueing is cheap and
// synchronous; chunk persistence happens in queue workers so that the
// queue's retry semantics cover every external write.
type Pipeline struct {
	chunker *chunk.Chunker
	tracker *tracker.Tracker
	lexical *lexical.Index
	vectors vector.Store
	encoder infer.Encoder
	queue   *queue.Queue
	logger  *slog.Logger
	opts    Options
}

// NewPipeline wires the pipeline over its collaborators.
func NewPipeline(
	chunker *chunk.Chunker,
	track *tracker.Tracker,
	lex *lexical.Index,
	vectors vector.Store,
	encoder infer.Encoder,
	q *queue.Queue,
	logger *slog.Logger,
	opts Options,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.VectorBatchSize <= 0 {
		opts.VectorBatchSize = DefaultVectorBatchSize
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Pipeline{
		chunker: chunker,
		tracker: track,
		lexical: lex,
		vectors: vectors,
		encoder: encoder,
		queue:   q,
		logger:  logger,
		opts:    opts,
	}
}

// Result summarizes an Index call.
type Result struct {
	Store     string
	New       int
	Changed   int
	Unchanged int
	Skipped   int
	Chunks    int

	LexicalJobID int64
	EmbedJobID   int64
	DeleteJobID  int64
}

// Index diffs files against the tracker, chunks new and changed ones,
// and enqueues the lexical and embedding jobs. Unchanged files are a
// no-op unless force is set. The tracker is committed by the embedding
// worker, never here.
func (p *Pipeline) Index(ctx context.Context, store string, files []File, force bool) (*Result, error) {
	if store == "" {
		return nil, errors.InvalidArgument("index.Index", "store must not be empty")
	}

	paths := make([]string, 0, len(files))
	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
		contents[f.Path] = f.Content
	}

	check, err := p.tracker.CheckFiles(store, paths, contents)
	if err != nil {
		return nil, err
	}
	if force {
		// Forced runs treat every tracked file as changed.
		check.Changed = append(check.Changed, check.Unchanged...)
		check.Unchanged = nil
	}
	res := &Result{
		Store:     store,
		New:       len(check.New),
		Changed:   len(check.Changed),
		Unchanged: len(check.Unchanged),
	}

	oldIDs := map[string][]string{}
	if len(check.Changed) > 0 {
		oldIDs, err = p.chunkIDsByPath(store, check.Changed)
		if err != nil {
			return nil, err
		}
	}

	work := append(append([]string{}, check.New...), check.Changed...)
	if len(work) == 0 {
		return res, nil
	}

	var (
		docs    []*lexical.Document
		chunks  []*chunk.Chunk
		commits []*FileCommit
	)
	for _, path := range work {
		content := contents[path]
		fileChunks, err := p.chunker.ChunkFile(ctx, path, content)
		if err != nil {
			return nil, err
		}
		if len(fileChunks) == 0 {
			// Binary or empty; nothing to index.
			res.Skipped++
			continue
		}

		commit := &FileCommit{
			Path: path,
			Hash: tracker.Hash(content),
			Size: int64(len(content)),
		}
		for _, c := range fileChunks {
			docs = append(docs, &lexical.Document{
				DocID:     c.DocID,
				Path:      c.Path,
				Language:  c.Language,
				Symbols:   c.Symbols,
				Content:   c.Content,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
			})
			commit.ChunkIDs = append(commit.ChunkIDs, c.DocID)
		}
		chunks = append(chunks, fileChunks...)
		commits = append(commits, commit)
	}
	res.Chunks = len(chunks)

	// A chunk whose content length survives an edit keeps its doc id,
	// and the embed worker replaces it by upsert on a different queue.
	// Only ids that are NOT being re-upserted may be deleted; deleting a
	// live id would race the upsert and strand the tracker.
	newIDs := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		newIDs[c.DocID] = struct{}{}
	}
	var staleIDs []string
	for _, path := range check.Changed {
		for _, id := range oldIDs[path] {
			if _, live := newIDs[id]; !live {
				staleIDs = append(staleIDs, id)
			}
		}
	}
	if len(staleIDs) > 0 {
		id, err := p.enqueueDelete(ctx, store, &DeletePayload{Store: store, DocIDs: staleIDs})
		if err != nil {
			return nil, err
		}
		res.DeleteJobID = id
	}

	if len(chunks) == 0 {
		return res, nil
	}

	lexData, err := encodePayload("index.Index", &LexicalPayload{Store: store, Docs: docs})
	if err != nil {
		return nil, err
	}
	res.LexicalJobID, err = p.queue.Enqueue(ctx, queue.LexicalQueue(store), queue.KindLexicalIndex, lexData)
	if err != nil {
		return nil, err
	}

	embedData, err := encodePayload("index.Index", &EmbedPayload{Store: store, Chunks: chunks, Files: commits})
	if err != nil {
		return nil, err
	}
	res.EmbedJobID, err = p.queue.Enqueue(ctx, queue.EmbedQueue, queue.KindEmbed, embedData)
	if err != nil {
		return nil, err
	}

	p.logger.Info("index_enqueued",
		slog.String("store", store),
		slog.Int("new", res.New),
		slog.Int("changed", res.Changed),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("chunks", res.Chunks))
	return res, nil
}

// Delete enqueues removal of paths from every layer.
func (p *Pipeline) Delete(ctx context.Context, store string, paths ...string) (int64, error) {
	if len(paths) == 0 {
		return 0, errors.InvalidArgument("index.Delete", "at least one path required")
	}
	return p.enqueueDelete(ctx, store, &DeletePayload{Store: store, Paths: paths})
}

// DeleteByPrefix enqueues removal of every path under prefix.
func (p *Pipeline) DeleteByPrefix(ctx context.Context, store, prefix string) (int64, error) {
	if prefix == "" {
		return 0, errors.InvalidArgument("index.DeleteByPrefix", "prefix must not be empty")
	}
	return p.enqueueDelete(ctx, store, &DeletePayload{Store: store, Prefix: prefix})
}

// Sync enqueues deletion of tracked paths absent from currentPaths and
// returns how many were scheduled for removal.
func (p *Pipeline) Sync(ctx context.Context, store string, currentPaths []string) (int, error) {
	deleted, err := p.tracker.FindDeleted(store, currentPaths)
	if err != nil {
		return 0, err
	}
	if len(deleted) == 0 {
		return 0, nil
	}
	if _, err := p.enqueueDelete(ctx, store, &DeletePayload{Store: store, Paths: deleted}); err != nil {
		return 0, err
	}
	p.logger.Info("sync_enqueued",
		slog.String("store", store),
		slog.Int("removed", len(deleted)))
	return len(deleted), nil
}

// Reindex drops every layer for the store and indexes files from
// scratch.
func (p *Pipeline) Reindex(ctx context.Context, store string, files []File) (*Result, error) {
	if err := p.vectors.DropCollections(ctx, store); err != nil {
		return nil, err
	}
	if err := p.lexical.DropStore(store); err != nil {
		return nil, err
	}
	if err := p.tracker.Clear(store); err != nil {
		return nil, err
	}
	p.logger.Info("reindex_started", slog.String("store", store))
	return p.Index(ctx, store, files, false)
}

func (p *Pipeline) enqueueDelete(ctx context.Context, store string, payload *DeletePayload) (int64, error) {
	data, err := encodePayload("index.enqueueDelete", payload)
	if err != nil {
		return 0, err
	}
	return p.queue.Enqueue(ctx, queue.LexicalQueue(store), queue.KindDelete, data)
}

// chunkIDsByPath returns the tracked chunk ids of each requested path.
func (p *Pipeline) chunkIDsByPath(store string, paths []string) (map[string][]string, error) {
	tracked, err := p.tracker.TrackedFiles(store)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string][]string, len(tracked))
	for _, f := range tracked {
		byPath[f.Path] = f.ChunkIDs
	}
	ids := make(map[string][]string, len(paths))
	for _, path := range paths {
		ids[path] = byPath[path]
	}
	return ids, nil
}

func (p *Pipeline) staleChunkIDs(store string, paths []string) ([]string, error) {
	byPath, err := p.chunkIDsByPath(store, paths)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, path := range paths {
		ids = append(ids, byPath[path]...)
	}
	return ids, nil
}
