package search

import "math"

// DedupeByFile keeps the highest-scoring result per path. Input must
// already be sorted; relative order is preserved.
func DedupeByFile(results []*Result) []*Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		if _, ok := seen[r.Path]; ok {
			continue
		}
		seen[r.Path] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DisplayPercent maps a raw fused score to a user-visible percentage.
// The sigmoid squashes the unbounded score, and the affine shift keeps
// the range inside [12, 98] so the UI never shows 0% or an accidental
// 100%. Scores above 6 are the single exception and display as 100.
func DisplayPercent(score float64) int {
	if score > 6 {
		return 100
	}
	sigmoid := 1 / (1 + math.Exp(-score))
	pct := int(math.Round((sigmoid*0.86 + 0.12) * 100))
	if pct < 12 {
		pct = 12
	}
	if pct > 98 {
		pct = 98
	}
	return pct
}

// finishResults applies display scores and truncates to limit.
func finishResults(results []*Result, limit int) []*Result {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for _, r := range results {
		r.DisplayPercent = DisplayPercent(r.FinalScore)
	}
	return results
}
