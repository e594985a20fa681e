// Package chunk splits source files into retrievable units. Files in a
// supported language parse to an AST and split at symbol boundaries;
// everything else falls back to fixed-size line windows with overlap.
package chunk

import (
	"fmt"
	"hash/fnv"
)

// Defaults for the two-level strategy.
const (
	// DefaultMaxASTBytes is the largest file parsed with tree-sitter.
	DefaultMaxASTBytes = 500 * 1024
	// DefaultMinChunkLines merges shorter AST chunks into the previous
	// chunk when contiguous.
	DefaultMinChunkLines = 10
	// DefaultFallbackLines is the line-window size for non-AST files.
	DefaultFallbackLines = 100
	// DefaultFallbackOverlap is the line overlap between consecutive
	// fallback windows.
	DefaultFallbackOverlap = 5
)

// Chunk is one searchable unit of a file.
type Chunk struct {
	// DocID is stable across runs for the same (path, index, content
	// length) triple.
	DocID string `json:"doc_id"`

	Path     string `json:"path"`
	Language string `json:"language"`

	// StartLine and EndLine are 1-based and inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	Content string `json:"content"`

	// ChunkIndex is the 0-based position within the file.
	ChunkIndex int `json:"chunk_index"`

	// Symbols are deduplicated identifier tokens; the enclosing node's
	// name, when present, is first.
	Symbols []string `json:"symbols,omitempty"`

	// NodeType is the AST node type that produced this chunk, empty for
	// line-based chunks.
	NodeType string `json:"node_type,omitempty"`
}

// Options configures the chunker. The zero value uses defaults.
type Options struct {
	MaxASTBytes     int
	MinChunkLines   int
	FallbackLines   int
	FallbackOverlap int
}

func (o *Options) applyDefaults() {
	if o.MaxASTBytes <= 0 {
		o.MaxASTBytes = DefaultMaxASTBytes
	}
	if o.MinChunkLines <= 0 {
		o.MinChunkLines = DefaultMinChunkLines
	}
	if o.FallbackLines <= 0 {
		o.FallbackLines = DefaultFallbackLines
	}
	if o.FallbackOverlap < 0 || o.FallbackOverlap >= o.FallbackLines {
		o.FallbackOverlap = DefaultFallbackOverlap
	}
}

// DocID derives the stable chunk identifier. The hash input binds path,
// position, and content length so an edited chunk changes identity.
func DocID(path string, chunkIndex, contentLength int) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d:%d", path, chunkIndex, contentLength)
	return fmt.Sprintf("%s#%d#%x", path, chunkIndex, h.Sum32())
}
