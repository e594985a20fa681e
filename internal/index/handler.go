package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/infer"
	"github.com/quarrysearch/quarry/internal/queue"
	"github.com/quarrysearch/quarry/internal/vector"
)

// HandleJob dispatches one queue job. Any error re-enqueues the whole
// job; workers must be able to run the same job twice, so every branch
// is idempotent (upserts replace, deletes tolerate absence).
func (p *Pipeline) HandleJob(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindLexicalIndex:
		return p.handleLexical(ctx, job)
	case queue.KindEmbed:
		return p.handleEmbed(ctx, job)
	case queue.KindDelete:
		return p.handleDelete(ctx, job)
	default:
		return errors.InvalidArgument("index.HandleJob",
			fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func (p *Pipeline) handleLexical(ctx context.Context, job *queue.Job) error {
	var payload LexicalPayload
	if err := decodePayload("index.handleLexical", job.Payload, &payload); err != nil {
		return err
	}
	if err := p.lexical.Add(ctx, payload.Store, payload.Docs); err != nil {
		return err
	}
	p.logger.Debug("lexical_job_done",
		slog.Int64("job_id", job.ID),
		slog.String("store", payload.Store),
		slog.Int("docs", len(payload.Docs)))
	return nil
}

// handleEmbed embeds all chunks, commits the vectors in bounded
// batches, and only then records the files in the tracker. A failure
// anywhere leaves the tracker untouched so the retry restarts cleanly.
func (p *Pipeline) handleEmbed(ctx context.Context, job *queue.Job) error {
	var payload EmbedPayload
	if err := decodePayload("index.handleEmbed", job.Payload, &payload); err != nil {
		return err
	}
	if len(payload.Chunks) == 0 {
		return nil
	}

	texts := make([]string, len(payload.Chunks))
	for i, c := range payload.Chunks {
		texts[i] = c.Content
	}

	var (
		dense  [][]float32
		sparse []infer.Sparse
	)
	for start := 0; start < len(texts); start += p.opts.EmbedBatchSize {
		end := min(start+p.opts.EmbedBatchSize, len(texts))
		batchDense, batchSparse, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return err
		}
		dense = append(dense, batchDense...)
		sparse = append(sparse, batchSparse...)
	}
	if len(dense) != len(payload.Chunks) {
		return errors.E(errors.KindUpstream, "index.handleEmbed",
			fmt.Sprintf("embedded %d of %d chunks", len(dense), len(payload.Chunks)), nil)
	}

	points := make([]*vector.Point, len(payload.Chunks))
	for i, c := range payload.Chunks {
		pt := &vector.Point{
			DocID:      c.DocID,
			Dense:      dense[i],
			Path:       c.Path,
			Language:   c.Language,
			Content:    c.Content,
			Symbols:    c.Symbols,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			ChunkIndex: c.ChunkIndex,
		}
		if sparse != nil {
			pt.Sparse = map[string]float32(sparse[i])
		}
		points[i] = pt
	}

	for start := 0; start < len(points); start += p.opts.VectorBatchSize {
		end := start + p.opts.VectorBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := p.vectors.Upsert(ctx, payload.Store, points[start:end]); err != nil {
			return err
		}
	}

	for _, f := range payload.Files {
		if err := p.tracker.TrackHashed(payload.Store, f.Path, f.Hash, f.Size, f.ChunkIDs); err != nil {
			return err
		}
	}

	p.logger.Info("embed_job_done",
		slog.Int64("job_id", job.ID),
		slog.String("store", payload.Store),
		slog.Int("chunks", len(payload.Chunks)),
		slog.Int("files", len(payload.Files)))
	return nil
}

// embedBatch runs one encode call under the index-path deadline.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, []infer.Sparse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()

	if p.opts.Hybrid {
		emb, err := p.encoder.EmbedBoth(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		return emb.Dense, emb.Sparse, nil
	}
	dense, err := p.encoder.EmbedDense(ctx, texts)
	return dense, nil, err
}

func (p *Pipeline) handleDelete(ctx context.Context, job *queue.Job) error {
	var payload DeletePayload
	if err := decodePayload("index.handleDelete", job.Payload, &payload); err != nil {
		return err
	}
	store := payload.Store

	switch {
	case payload.Prefix != "":
		if _, err := p.lexical.DeleteByPathPrefix(ctx, store, payload.Prefix); err != nil {
			return err
		}
		if err := p.vectors.DeleteByPathPrefix(ctx, store, payload.Prefix); err != nil {
			return err
		}
		if _, err := p.tracker.UntrackByPrefix(store, payload.Prefix); err != nil {
			return err
		}

	case len(payload.Paths) > 0:
		docIDs, err := p.staleChunkIDs(store, payload.Paths)
		if err != nil {
			return err
		}
		if err := p.deleteDocIDs(ctx, store, docIDs); err != nil {
			return err
		}
		for _, path := range payload.Paths {
			if _, err := p.tracker.Untrack(store, path); err != nil {
				return err
			}
		}

	case len(payload.DocIDs) > 0:
		if err := p.deleteDocIDs(ctx, store, payload.DocIDs); err != nil {
			return err
		}

	default:
		return errors.InvalidArgument("index.handleDelete", "empty delete payload")
	}

	p.logger.Debug("delete_job_done",
		slog.Int64("job_id", job.ID),
		slog.String("store", store))
	return nil
}

func (p *Pipeline) deleteDocIDs(ctx context.Context, store string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	if err := p.lexical.Delete(ctx, store, docIDs); err != nil {
		return err
	}
	return p.vectors.DeleteByDocIDs(ctx, store, docIDs)
}
