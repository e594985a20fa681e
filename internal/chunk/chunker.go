package chunk

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxSymbolsPerChunk bounds the symbol payload per chunk.
const maxSymbolsPerChunk = 64

// Chunker implements the two-level strategy: AST boundary chunking for
// supported languages under the size cap, line windows otherwise.
type Chunker struct {
	registry *Registry
	parser   *Parser
	opts     Options
}

// NewChunker creates a chunker. The zero Options use defaults.
func NewChunker(opts Options) *Chunker {
	opts.applyDefaults()
	registry := NewRegistry()
	return &Chunker{
		registry: registry,
		parser:   NewParser(registry),
		opts:     opts,
	}
}

// Close releases parser resources.
func (c *Chunker) Close() {
	c.parser.Close()
}

// LanguageForPath exposes the registry's extension mapping.
func (c *Chunker) LanguageForPath(path string) string {
	return c.registry.LanguageForPath(path)
}

// ChunkFile splits a file into chunks. Binary and empty files yield no
// chunks and no error.
func (c *Chunker) ChunkFile(ctx context.Context, path string, content []byte) ([]*Chunk, error) {
	if len(content) == 0 || strings.TrimSpace(string(content)) == "" {
		return nil, nil
	}
	if IsBinary(content) {
		return nil, nil
	}

	language := c.registry.LanguageForPath(path)
	config, supported := c.registry.Config(language)

	if supported && len(content) <= c.opts.MaxASTBytes {
		chunks, err := c.chunkAST(ctx, path, content, language, config)
		if err == nil && len(chunks) > 0 {
			return chunks, nil
		}
		// Parse failures and symbol-free files fall back to line windows.
	}

	return c.chunkLines(path, content, language), nil
}

// span is a contiguous line range destined to become a chunk.
type span struct {
	startLine int // 1-based, inclusive
	endLine   int
	nodeType  string
	name      string
}

func (s span) lines() int { return s.endLine - s.startLine + 1 }

func (c *Chunker) chunkAST(ctx context.Context, path string, content []byte, language string, config *LanguageConfig) ([]*Chunk, error) {
	tree, err := c.parser.Parse(ctx, content, language)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	nodes := topBoundaryNodes(tree.RootNode(), config)
	if len(nodes) == 0 {
		return nil, nil
	}

	lines := strings.Split(string(content), "\n")
	spans := c.buildSpans(nodes, content, config, len(lines))
	spans = mergeShortSpans(spans, c.opts.MinChunkLines)

	chunks := make([]*Chunk, 0, len(spans))
	for i, s := range spans {
		text := strings.Join(lines[s.startLine-1:s.endLine], "\n")
		chunks = append(chunks, &Chunk{
			DocID:      DocID(path, i, len(text)),
			Path:       path,
			Language:   language,
			StartLine:  s.startLine,
			EndLine:    s.endLine,
			Content:    text,
			ChunkIndex: i,
			Symbols:    extractSymbols(text, s.name, maxSymbolsPerChunk),
			NodeType:   s.nodeType,
		})
	}
	return chunks, nil
}

// buildSpans turns boundary nodes into line spans and fills the gaps
// between them so the whole file stays covered. Short gaps merge away
// in mergeShortSpans.
func (c *Chunker) buildSpans(nodes []*sitter.Node, content []byte, config *LanguageConfig, totalLines int) []span {
	var spans []span
	cursor := 1

	for _, n := range nodes {
		start := int(n.StartPoint().Row) + 1
		end := int(n.EndPoint().Row) + 1
		if start > end || end > totalLines {
			continue
		}
		// Overlapping declarations collapse into the earlier span.
		if start < cursor {
			continue
		}
		if start > cursor {
			spans = append(spans, span{startLine: cursor, endLine: start - 1})
		}
		spans = append(spans, span{
			startLine: start,
			endLine:   end,
			nodeType:  n.Type(),
			name:      nodeName(n, content, config),
		})
		cursor = end + 1
	}

	if cursor <= totalLines {
		spans = append(spans, span{startLine: cursor, endLine: totalLines})
	}
	return spans
}

// mergeShortSpans folds spans shorter than minLines into the previous
// span when contiguous. The first span has no previous and stays.
func mergeShortSpans(spans []span, minLines int) []span {
	if len(spans) == 0 {
		return spans
	}

	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		prev := &merged[len(merged)-1]
		if s.lines() < minLines && prev.endLine+1 == s.startLine {
			prev.endLine = s.endLine
			if prev.nodeType == "" {
				prev.nodeType = s.nodeType
			}
			if prev.name == "" {
				prev.name = s.name
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// chunkLines emits fixed windows of FallbackLines with FallbackOverlap
// lines repeated between consecutive windows.
func (c *Chunker) chunkLines(path string, content []byte, language string) []*Chunk {
	lines := strings.Split(string(content), "\n")
	step := c.opts.FallbackLines - c.opts.FallbackOverlap

	var chunks []*Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.opts.FallbackLines
		if end > len(lines) {
			end = len(lines)
		}

		text := strings.Join(lines[start:end], "\n")
		index := len(chunks)

		var symbols []string
		if language != "text" {
			symbols = extractSymbols(text, "", maxSymbolsPerChunk)
		}

		chunks = append(chunks, &Chunk{
			DocID:      DocID(path, index, len(text)),
			Path:       path,
			Language:   language,
			StartLine:  start + 1,
			EndLine:    end,
			Content:    text,
			ChunkIndex: index,
			Symbols:    symbols,
		})

		if end == len(lines) {
			break
		}
	}
	return chunks
}
