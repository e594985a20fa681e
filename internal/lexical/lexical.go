// Package lexical is the BM25 keyword index, one bleve index per store
// under a root directory. Searching a store that was never indexed
// returns empty results; the index is created on first write.
package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarrysearch/quarry/internal/errors"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeStopName      = "code_stop"
	codeAnalyzerName  = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, newCodeTokenizer)
	_ = registry.RegisterTokenFilter(codeStopName, newCodeStopFilter)
}

// Document is a chunk as the lexical index sees it.
type Document struct {
	DocID     string   `json:"doc_id"`
	Path      string   `json:"path"`
	Language  string   `json:"language"`
	Symbols   []string `json:"symbols"`
	Content   string   `json:"content"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
}

// Result is one BM25 hit.
type Result struct {
	DocID        string
	Path         string
	Language     string
	Content      string
	Symbols      []string
	StartLine    int
	EndLine      int
	Score        float64
	Rank         int // 1-based position in the BM25 ranking
	MatchedTerms []string
}

// Filters narrows a search.
type Filters struct {
	// PathPrefix keeps only documents whose path starts with it.
	PathPrefix string
	// Languages keeps only documents in one of the listed languages.
	Languages []string
}

// Stats summarizes one store's index.
type Stats struct {
	NumDocs     int
	NumSegments int
}

// Index manages per-store bleve indexes.
type Index struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewIndex creates the manager rooted at root.
func NewIndex(root string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create lexical root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		root:    root,
		logger:  logger,
		indexes: make(map[string]bleve.Index),
	}, nil
}

func (x *Index) storePath(store string) string {
	return filepath.Join(x.root, store+".bleve")
}

// open returns the bleve index for a store. With create false, a store
// that was never indexed returns (nil, nil).
func (x *Index) open(store string, create bool) (bleve.Index, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if idx, ok := x.indexes[store]; ok {
		return idx, nil
	}

	path := x.storePath(store)
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if !create {
			return nil, nil
		}
		m, mapErr := buildMapping()
		if mapErr != nil {
			return nil, mapErr
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index for %s: %w", store, err)
	}

	x.indexes[store] = idx
	return idx, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name, codeStopName},
	})
	if err != nil {
		return nil, fmt.Errorf("register code analyzer: %w", err)
	}
	m.DefaultAnalyzer = codeAnalyzerName

	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = codeAnalyzerName
	content.Store = true
	doc.AddFieldMappingsAt("content", content)

	symbols := bleve.NewTextFieldMapping()
	symbols.Analyzer = codeAnalyzerName
	symbols.Store = true
	doc.AddFieldMappingsAt("symbols", symbols)

	path := bleve.NewTextFieldMapping()
	path.Analyzer = keyword.Name
	path.Store = true
	doc.AddFieldMappingsAt("path", path)

	language := bleve.NewTextFieldMapping()
	language.Analyzer = keyword.Name
	language.Store = true
	doc.AddFieldMappingsAt("language", language)

	startLine := bleve.NewNumericFieldMapping()
	startLine.Store = true
	doc.AddFieldMappingsAt("start_line", startLine)

	endLine := bleve.NewNumericFieldMapping()
	endLine.Store = true
	doc.AddFieldMappingsAt("end_line", endLine)

	m.DefaultMapping = doc
	return m, nil
}

// Add indexes documents into the store, creating the index on first
// write. Re-adding a doc_id replaces the previous document.
func (x *Index) Add(ctx context.Context, store string, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	idx, err := x.open(store, true)
	if err != nil {
		return errors.E(errors.KindUpstream, "lexical.Add", err.Error(), err)
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.DocID, doc); err != nil {
			return errors.E(errors.KindUpstream, "lexical.Add",
				fmt.Sprintf("index document %s", doc.DocID), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return errors.E(errors.KindUpstream, "lexical.Add", "execute batch", err)
	}

	x.logger.Debug("lexical_indexed",
		slog.String("store", store),
		slog.Int("docs", len(docs)))
	return nil
}

// Search runs a BM25 query against the store. A store with no index
// returns empty results.
func (x *Index) Search(ctx context.Context, store, queryStr string, topK int, filters *Filters) ([]*Result, error) {
	if strings.TrimSpace(queryStr) == "" {
		return []*Result{}, nil
	}

	idx, err := x.open(store, false)
	if err != nil {
		return nil, errors.E(errors.KindUpstream, "lexical.Search", err.Error(), err)
	}
	if idx == nil {
		return []*Result{}, nil
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField("content")

	var q query.Query = match
	if filters != nil {
		conjuncts := []query.Query{q}
		if filters.PathPrefix != "" {
			prefix := bleve.NewPrefixQuery(filters.PathPrefix)
			prefix.SetField("path")
			conjuncts = append(conjuncts, prefix)
		}
		if len(filters.Languages) > 0 {
			langs := make([]query.Query, 0, len(filters.Languages))
			for _, lang := range filters.Languages {
				tq := bleve.NewTermQuery(lang)
				tq.SetField("language")
				langs = append(langs, tq)
			}
			conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(langs...))
		}
		if len(conjuncts) > 1 {
			q = bleve.NewConjunctionQuery(conjuncts...)
		}
	}

	req := bleve.NewSearchRequest(q)
	req.Size = topK
	req.Fields = []string{"path", "language", "content", "symbols", "start_line", "end_line"}
	req.IncludeLocations = true

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.E(errors.KindUpstream, "lexical.Search", "bm25 search", err)
	}

	results := make([]*Result, 0, len(res.Hits))
	for i, hit := range res.Hits {
		r := &Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			Rank:         i + 1,
			MatchedTerms: matchedTerms(hit.Locations),
		}
		r.Path, _ = hit.Fields["path"].(string)
		r.Language, _ = hit.Fields["language"].(string)
		r.Content, _ = hit.Fields["content"].(string)
		r.Symbols = fieldStrings(hit.Fields["symbols"])
		r.StartLine = fieldInt(hit.Fields["start_line"])
		r.EndLine = fieldInt(hit.Fields["end_line"])
		results = append(results, r)
	}
	return results, nil
}

// Delete removes documents by ID. Missing IDs and missing stores are
// no-ops.
func (x *Index) Delete(ctx context.Context, store string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	idx, err := x.open(store, false)
	if err != nil {
		return errors.E(errors.KindUpstream, "lexical.Delete", err.Error(), err)
	}
	if idx == nil {
		return nil
	}

	batch := idx.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return errors.E(errors.KindUpstream, "lexical.Delete", "execute batch", err)
	}
	return nil
}

// DeleteByPathPrefix removes every document whose path starts with
// prefix and returns how many were removed.
func (x *Index) DeleteByPathPrefix(ctx context.Context, store, prefix string) (int, error) {
	idx, err := x.open(store, false)
	if err != nil {
		return 0, errors.E(errors.KindUpstream, "lexical.DeleteByPathPrefix", err.Error(), err)
	}
	if idx == nil {
		return 0, nil
	}

	pq := bleve.NewPrefixQuery(prefix)
	pq.SetField("path")

	count, _ := idx.DocCount()
	req := bleve.NewSearchRequest(pq)
	req.Size = int(count)

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, errors.E(errors.KindUpstream, "lexical.DeleteByPathPrefix", "find documents", err)
	}

	batch := idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := idx.Batch(batch); err != nil {
		return 0, errors.E(errors.KindUpstream, "lexical.DeleteByPathPrefix", "execute batch", err)
	}
	return len(res.Hits), nil
}

// Stats returns document and segment counts for a store. Missing
// stores report zero docs.
func (x *Index) Stats(store string) (*Stats, error) {
	idx, err := x.open(store, false)
	if err != nil {
		return nil, errors.E(errors.KindUpstream, "lexical.Stats", err.Error(), err)
	}
	if idx == nil {
		return &Stats{}, nil
	}

	count, err := idx.DocCount()
	if err != nil {
		return nil, errors.E(errors.KindUpstream, "lexical.Stats", "doc count", err)
	}

	stats := &Stats{NumDocs: int(count), NumSegments: 1}
	if m, ok := idx.StatsMap()["index"].(map[string]interface{}); ok {
		if n, ok := m["num_segments"].(uint64); ok {
			stats.NumSegments = int(n)
		}
	}
	return stats, nil
}

// DropStore closes and removes a store's index from disk.
func (x *Index) DropStore(store string) error {
	x.mu.Lock()
	if idx, ok := x.indexes[store]; ok {
		_ = idx.Close()
		delete(x.indexes, store)
	}
	x.mu.Unlock()

	if err := os.RemoveAll(x.storePath(store)); err != nil {
		return fmt.Errorf("remove lexical index for %s: %w", store, err)
	}
	return nil
}

// Close closes all open indexes.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var firstErr error
	for store, idx := range x.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close lexical index for %s: %w", store, err)
		}
		delete(x.indexes, store)
	}
	return firstErr
}

// matchedTerms collects the query terms that matched in content.
func matchedTerms(locations search.FieldTermLocationMap) []string {
	seen := make(map[string]struct{})
	for field, termLocs := range locations {
		if field != "content" && field != "symbols" {
			continue
		}
		for term := range termLocs {
			seen[term] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func fieldStrings(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func fieldInt(v interface{}) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}
