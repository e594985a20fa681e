package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/lexical"
	"github.com/quarrysearch/quarry/internal/vector"
)

func sparseHit(docID, path string, rank int, score float64) *lexical.Result {
	return &lexical.Result{DocID: docID, Path: path, Rank: rank, Score: score}
}

func denseHit(docID, path string, rank int, score float64) *vector.Result {
	return &vector.Result{DocID: docID, Path: path, Rank: rank, Score: score}
}

func TestFuseEmpty(t *testing.T) {
	f := NewFuser(FusionConfig{})
	results := f.Fuse("query", nil, nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuseBothListsWin(t *testing.T) {
	f := NewFuser(FusionConfig{})

	sparse := []*lexical.Result{
		sparseHit("a", "a.go", 1, 5.0),
		sparseHit("b", "b.go", 2, 4.0),
	}
	dense := []*vector.Result{
		denseHit("b", "b.go", 1, 0.9),
		denseHit("c", "c.go", 2, 0.8),
	}

	results := f.Fuse("query", sparse, dense)
	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].DocID, "doc in both lists outranks single-list docs")
	assert.Equal(t, 1, results[0].DenseRank)
	assert.Equal(t, 2, results[0].SparseRank)
	assert.Positive(t, results[0].FinalScore)
}

func TestFuseCarriesModalityScores(t *testing.T) {
	f := NewFuser(FusionConfig{})

	results := f.Fuse("query",
		[]*lexical.Result{sparseHit("a", "a.go", 1, 7.5)},
		[]*vector.Result{denseHit("a", "a.go", 1, 0.93)})
	require.Len(t, results, 1)
	assert.Equal(t, 7.5, results[0].SparseScore)
	assert.Equal(t, 0.93, results[0].DenseScore)
}

func TestFuseTieBreaksByDocID(t *testing.T) {
	f := NewFuser(FusionConfig{})

	// Same rank in the same single list gives identical fused scores.
	results := f.Fuse("query",
		[]*lexical.Result{sparseHit("zzz", "z.go", 1, 1.0)},
		[]*vector.Result{denseHit("aaa", "a.go", 1, 1.0)})
	require.Len(t, results, 2)

	if results[0].FinalScore == results[1].FinalScore {
		assert.Equal(t, "aaa", results[0].DocID)
	}
}

func TestSymbolBoost(t *testing.T) {
	f := NewFuser(FusionConfig{})

	plain := sparseHit("plain", "other.go", 1, 1.0)
	boosted := sparseHit("boosted", "token.go", 2, 0.9)
	boosted.Symbols = []string{"ValidateToken"}

	results := f.Fuse("validate token", []*lexical.Result{plain, boosted}, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "boosted", results[0].DocID,
		"symbol match must overcome a one-rank deficit")
}

func TestSymbolBoostCapped(t *testing.T) {
	f := NewFuser(FusionConfig{SymbolBoost: 2.0})

	many := sparseHit("many", "a.go", 1, 1.0)
	many.Symbols = []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	few := sparseHit("few", "b.go", 1, 1.0)
	few.Symbols = []string{"alpha", "beta", "gamma"}

	resultsMany := f.Fuse("alpha beta gamma delta epsilon", []*lexical.Result{many}, nil)
	resultsFew := f.Fuse("alpha beta gamma", []*lexical.Result{few}, nil)
	assert.Equal(t, resultsFew[0].FinalScore, resultsMany[0].FinalScore,
		"boost compounds at most three times")
}

func TestPathBoost(t *testing.T) {
	f := NewFuser(FusionConfig{})

	hit := sparseHit("a", "internal/auth/token.go", 1, 1.0)
	other := sparseHit("b", "web/render.ts", 1, 1.0)

	boosted := f.Fuse("bug in auth/token.go", []*lexical.Result{hit}, nil)
	unboosted := f.Fuse("bug in auth/token.go", []*lexical.Result{other}, nil)
	assert.Greater(t, boosted[0].FinalScore, unboosted[0].FinalScore)
}

func TestConfidenceWeightingShiftsTowardDecisiveModality(t *testing.T) {
	base := FusionConfig{SparseWeight: 0.5, DenseWeight: 0.5}
	flat := NewFuser(base)

	confident := base
	confident.ConfidenceWeighting = true
	confident.MaxWeightBoost = 0.5
	confident.MinWeight = 0.1
	weighted := NewFuser(confident)

	// Sparse has a dominant top hit; dense scores are flat.
	sparse := []*lexical.Result{
		sparseHit("s1", "s1.go", 1, 10.0),
		sparseHit("s2", "s2.go", 2, 2.0),
		sparseHit("s3", "s3.go", 3, 1.9),
	}
	dense := []*vector.Result{
		denseHit("d1", "d1.go", 1, 0.80),
		denseHit("d2", "d2.go", 2, 0.79),
		denseHit("d3", "d3.go", 3, 0.78),
	}

	flatResults := flat.Fuse("query", sparse, dense)
	weightedResults := weighted.Fuse("query", sparse, dense)

	score := func(results []*Result, docID string) float64 {
		for _, r := range results {
			if r.DocID == docID {
				return r.FinalScore
			}
		}
		t.Fatalf("doc %s missing", docID)
		return 0
	}

	// The sparse leg's share of s1's score grows under confidence
	// weighting relative to the dense top hit.
	flatRatio := score(flatResults, "s1") / score(flatResults, "d1")
	weightedRatio := score(weightedResults, "s1") / score(weightedResults, "d1")
	assert.Greater(t, weightedRatio, flatRatio)
}

func TestModalityConfidenceOrdering(t *testing.T) {
	decisive := modalityConfidence([]float64{10, 2, 1.9, 1.8}, 100)
	flat := modalityConfidence([]float64{2.0, 1.99, 1.98, 1.97}, 100)
	assert.Greater(t, decisive, flat)

	assert.Zero(t, modalityConfidence(nil, 0))
	assert.Zero(t, modalityConfidence([]float64{0}, 5))
}

func TestRankingOverlap(t *testing.T) {
	sparse := []*lexical.Result{
		sparseHit("a", "a.go", 1, 1),
		sparseHit("b", "b.go", 2, 1),
	}
	dense := []*vector.Result{
		denseHit("b", "b.go", 1, 1),
		denseHit("c", "c.go", 2, 1),
	}
	assert.InDelta(t, 0.5, rankingOverlap(sparse, dense), 1e-9)
	assert.Zero(t, rankingOverlap(nil, dense))
}
