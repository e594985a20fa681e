// Package search implements the query pipeline: classification,
// parallel retrieval over the lexical and vector indexes, weighted RRF
// fusion with code-specific boosts, optional cross-encoder reranking,
// and post-rank cleanup.
package search

import "time"

// QueryType classifies how a query should be weighted across the
// retrieval modalities.
type QueryType string

const (
	QueryTypeCode    QueryType = "code"
	QueryTypeNatural QueryType = "natural"
	QueryTypeHybrid  QueryType = "hybrid"
)

// Classification is the deterministic output of the query classifier.
type Classification struct {
	Type       QueryType `json:"type"`
	Confidence float64   `json:"confidence"`
	Score      float64   `json:"score"`
	Signals    []string  `json:"signals,omitempty"`
}

// Result is one fused hit.
type Result struct {
	DocID     string   `json:"doc_id"`
	Path      string   `json:"path"`
	Language  string   `json:"language"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Content   string   `json:"content"`
	Symbols   []string `json:"symbols,omitempty"`

	FinalScore     float64 `json:"final_score"`
	DisplayPercent int     `json:"display_percent"`

	SparseScore float64 `json:"sparse_score,omitempty"`
	SparseRank  int     `json:"sparse_rank,omitempty"`
	DenseScore  float64 `json:"dense_score,omitempty"`
	DenseRank   int     `json:"dense_rank,omitempty"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	RerankRank  int     `json:"rerank_rank,omitempty"`

	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Request is one search invocation.
type Request struct {
	Query string
	Store string
	// Limit caps the final result count; zero selects the default.
	Limit int

	PathPrefix string
	Languages  []string

	// Rerank overrides the engine-level rerank setting when non-nil.
	Rerank *bool
	// GroupByFile keeps only the top result per path.
	GroupByFile bool
}

// Response carries fused results plus query metadata.
type Response struct {
	RequestID      string
	Results        []*Result
	Classification Classification

	// Partial is set when one retrieval leg failed and the other
	// served the query alone.
	Partial bool
	Warning string

	Reranked bool
	Took     time.Duration
}

// Timings is the per-phase breakdown recorded for telemetry.
type Timings struct {
	Embed     time.Duration
	Retrieval time.Duration
	Fusion    time.Duration
	Rerank    time.Duration
	PostRank  time.Duration
	Total     time.Duration
}
