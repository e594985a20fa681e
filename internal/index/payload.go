package index

import (
	"encoding/json"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/lexical"
)

// File is one input to the pipeline.
type File struct {
	Path    string
	Content []byte
}

// FileCommit is the tracker state an embedding job commits on success.
// The worker holds hashes rather than raw file contents.
type FileCommit struct {
	Path     string   `json:"path"`
	Hash     string   `json:"hash"`
	Size     int64    `json:"size"`
	ChunkIDs []string `json:"chunk_ids"`
}

// LexicalPayload is the body of a lexical-index job.
type LexicalPayload struct {
	Store string              `json:"store"`
	Docs  []*lexical.Document `json:"docs"`
}

// EmbedPayload is the body of an embedding job. The job succeeds only
// after every chunk is embedded, every vector batch commits, and the
// tracker records the files.
type EmbedPayload struct {
	Store  string         `json:"store"`
	Chunks []*chunk.Chunk `json:"chunks"`
	Files  []*FileCommit  `json:"files"`
}

// DeletePayload is the body of a delete job. Exactly one of DocIDs,
// Paths, or Prefix drives the deletion.
type DeletePayload struct {
	Store  string   `json:"store"`
	DocIDs []string `json:"doc_ids,omitempty"`
	Paths  []string `json:"paths,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
}

func encodePayload(op string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(op, err)
	}
	return data, nil
}

func decodePayload(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Internal(op, err)
	}
	return nil
}
