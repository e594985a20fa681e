package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/vector"
)

// DefaultRRFConstant is the standard RRF smoothing parameter,
// empirically validated across domains.
const DefaultRRFConstant = 60

// Default fusion parameters.
const (
	DefaultSparseWeight = 0.4
	DefaultDenseWeight  = 0.6
	DefaultSymbolBoost  = 1.5
	DefaultPathBoost    = 1.2

	// maxSymbolBoosts caps how many symbol matches compound.
	maxSymbolBoosts = 3

	// confidenceTopN bounds the score window used for per-modality
	// confidence statistics.
	confidenceTopN = 10

	// overlapTopN and overlapThreshold drive the agreement bonus
	// between the two rankings.
	overlapTopN      = 20
	overlapThreshold = 0.3
)

// FusionConfig tunes the fuser. Zero values select defaults.
type FusionConfig struct {
	SparseWeight float64
	DenseWeight  float64
	K            int

	SymbolBoost float64
	PathBoost   float64

	// ConfidenceWeighting shifts the base weights toward the modality
	// whose score distribution looks more decisive.
	ConfidenceWeighting bool
	MaxWeightBoost      float64
	MinWeight           float64
}

func (c FusionConfig) withDefaults() FusionConfig {
	if c.SparseWeight == 0 && c.DenseWeight == 0 {
		c.SparseWeight = DefaultSparseWeight
		c.DenseWeight = DefaultDenseWeight
	}
	if c.K <= 0 {
		c.K = DefaultRRFConstant
	}
	if c.SymbolBoost == 0 {
		c.SymbolBoost = DefaultSymbolBoost
	}
	if c.PathBoost == 0 {
		c.PathBoost = DefaultPathBoost
	}
	return c
}

// Fuser combines the two ranked lists with weighted RRF.
type Fuser struct {
	config FusionConfig
}

// NewFuser creates a fuser.
func NewFuser(config FusionConfig) *Fuser {
	return &Fuser{config: config.withDefaults()}
}

var (
	pathFragmentRe = regexp.MustCompile(`[\w\-.]+(?:/[\w\-.]+)+`)
	filenameRe     = regexp.MustCompile(`\b[\w\-]+\.[a-zA-Z]\w*\b`)
)

// Fuse merges sparse and dense hits. A doc appearing in only one list
// takes the missing-rank penalty for the other modality. Final order
// is score descending with doc_id ascending on ties.
func (f *Fuser) Fuse(query string, sparse []*lexical.Result, dense []*vector.Result) []*Result {
	if len(sparse) == 0 && len(dense) == 0 {
		return []*Result{}
	}

	ws, wd := f.weights(sparse, dense)
	k := float64(f.config.K)

	fused := make(map[string]*Result, len(sparse)+len(dense))
	for _, r := range sparse {
		fused[r.DocID] = &Result{
			DocID:        r.DocID,
			Path:         r.Path,
			Language:     r.Language,
			StartLine:    r.StartLine,
			EndLine:      r.EndLine,
			Content:      r.Content,
			Symbols:      r.Symbols,
			SparseScore:  r.Score,
			SparseRank:   r.Rank,
			MatchedTerms: r.MatchedTerms,
			FinalScore:   ws / (k + float64(r.Rank)),
		}
	}
	for _, r := range dense {
		hit, ok := fused[r.DocID]
		if !ok {
			hit = &Result{
				DocID:     r.DocID,
				Path:      r.Path,
				Language:  r.Language,
				StartLine: r.StartLine,
				EndLine:   r.EndLine,
				Content:   r.Content,
				Symbols:   r.Symbols,
			}
			fused[r.DocID] = hit
		}
		hit.DenseScore = r.Score
		hit.DenseRank = r.Rank
		hit.FinalScore += wd / (k + float64(r.Rank))
	}

	// One-list docs pay the missing-rank penalty for the absent side.
	missingRank := float64(max(len(sparse), len(dense)) + 1)
	for _, hit := range fused {
		if hit.SparseRank == 0 {
			hit.FinalScore += ws / (k + missingRank)
		}
		if hit.DenseRank == 0 {
			hit.FinalScore += wd / (k + missingRank)
		}
	}

	f.applyBoosts(query, fused)

	results := make([]*Result, 0, len(fused))
	for _, hit := range fused {
		results = append(results, hit)
	}
	sortResults(results)
	return results
}

// sortResults orders by final score descending, doc_id ascending.
func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].DocID < results[j].DocID
	})
}

// applyBoosts multiplies scores for symbol and path matches.
func (f *Fuser) applyBoosts(query string, fused map[string]*Result) {
	queryTokens := make(map[string]struct{})
	for _, t := range lexical.Tokenize(query) {
		queryTokens[t] = struct{}{}
	}

	fragments := pathFragmentRe.FindAllString(query, -1)
	fragments = append(fragments, filenameRe.FindAllString(query, -1)...)
	for i, frag := range fragments {
		fragments[i] = strings.ToLower(frag)
	}

	for _, hit := range fused {
		if n := matchedSymbols(hit.Symbols, queryTokens); n > 0 {
			hit.FinalScore *= math.Pow(f.config.SymbolBoost, float64(min(n, maxSymbolBoosts)))
		}

		if len(fragments) > 0 {
			lowerPath := strings.ToLower(hit.Path)
			for _, frag := range fragments {
				if strings.Contains(lowerPath, frag) {
					hit.FinalScore *= f.config.PathBoost
					break
				}
			}
		}
	}
}

// matchedSymbols counts chunk symbols whose sub-tokens intersect the
// query tokens.
func matchedSymbols(symbols []string, queryTokens map[string]struct{}) int {
	n := 0
	for _, sym := range symbols {
		for _, t := range lexical.Tokenize(sym) {
			if _, ok := queryTokens[t]; ok {
				n++
				break
			}
		}
	}
	return n
}

// weights derives the effective modality weights, optionally shifted
// by per-modality confidence and the cross-ranking overlap bonus, then
// renormalized to sum 1.
func (f *Fuser) weights(sparse []*lexical.Result, dense []*vector.Result) (ws, wd float64) {
	ws, wd = f.config.SparseWeight, f.config.DenseWeight

	if f.config.ConfidenceWeighting {
		sparseScores := make([]float64, 0, confidenceTopN)
		for _, r := range sparse {
			sparseScores = append(sparseScores, r.Score)
			if len(sparseScores) == confidenceTopN {
				break
			}
		}
		denseScores := make([]float64, 0, confidenceTopN)
		for _, r := range dense {
			denseScores = append(denseScores, r.Score)
			if len(denseScores) == confidenceTopN {
				break
			}
		}

		cs := modalityConfidence(sparseScores, len(sparse))
		cd := modalityConfidence(denseScores, len(dense))
		if cs > 0 && cd > 0 {
			ws = shiftWeight(ws, cs, cs+cd, f.config.MaxWeightBoost, f.config.MinWeight)
			wd = shiftWeight(wd, cd, cs+cd, f.config.MaxWeightBoost, f.config.MinWeight)
		}
	}

	if overlap := rankingOverlap(sparse, dense); overlap > overlapThreshold {
		scale := 1 + overlap*0.2
		ws *= scale
		wd *= scale
	}

	total := ws + wd
	if total == 0 {
		return f.config.SparseWeight, f.config.DenseWeight
	}
	return ws / total, wd / total
}

// modalityConfidence scores how decisive a ranking looks: a large
// top-to-second gap, low spread, and a deep candidate list all raise
// confidence.
func modalityConfidence(topScores []float64, total int) float64 {
	if len(topScores) == 0 || topScores[0] <= 0 {
		return 0
	}

	gap := 0.0
	if len(topScores) >= 2 {
		gap = (topScores[0] - topScores[1]) / topScores[0]
	}

	var sum float64
	for _, s := range topScores {
		sum += s
	}
	mean := sum / float64(len(topScores))

	var variance float64
	for _, s := range topScores {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(topScores)))

	spread := 0.0
	if mean > 0 {
		spread = math.Min(1, std/mean)
	}

	depth := math.Min(1, float64(total)/20)
	return 0.5*gap + 0.3*(1-spread) + 0.2*depth
}

func shiftWeight(w, self, total, maxBoost, minWeight float64) float64 {
	shifted := w * (1 + (self/total-0.5)*maxBoost)
	if shifted < minWeight {
		shifted = minWeight
	}
	if ceiling := w * (1 + maxBoost); shifted > ceiling {
		shifted = ceiling
	}
	return shifted
}

// rankingOverlap is the Jaccard-like agreement between the two top-20
// doc_id sets.
func rankingOverlap(sparse []*lexical.Result, dense []*vector.Result) float64 {
	ns := min(len(sparse), overlapTopN)
	nd := min(len(dense), overlapTopN)
	if ns == 0 || nd == 0 {
		return 0
	}

	seen := make(map[string]struct{}, ns)
	for _, r := range sparse[:ns] {
		seen[r.DocID] = struct{}{}
	}
	shared := 0
	for _, r := range dense[:nd] {
		if _, ok := seen[r.DocID]; ok {
			shared++
		}
	}
	return float64(shared) / float64(min(ns, nd))
}
