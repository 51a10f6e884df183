package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/vectorstore"
)

func defaultWeights() Weights {
	return Weights{Semantic: 1, FTS: 2}
}

func TestFuse_EmptyInputsReturnNil(t *testing.T) {
	f := New(60)
	results := f.Fuse(nil, nil, defaultWeights())
	assert.Nil(t, results)
}

func TestFuse_ItemInBothListsScoresHigher(t *testing.T) {
	f := New(60)
	fts := []docstore.FTSHit{{DocID: "a", Rank: 0}, {DocID: "b", Rank: 1}}
	sem := []vectorstore.Match{{ID: "a"}, {ID: "c"}}

	results := f.Fuse(fts, sem, defaultWeights())
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.True(t, results[0].InBothLists)
}

func TestFuse_TopRankInBothListsNormalizesToOne(t *testing.T) {
	f := New(60)
	fts := []docstore.FTSHit{{DocID: "a", Rank: 0}}
	sem := []vectorstore.Match{{ID: "a"}}
	results := f.Fuse(fts, sem, defaultWeights())
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestFuse_FTSOnlyHitScoresBelowMaxPossible(t *testing.T) {
	f := New(60)
	fts := []docstore.FTSHit{{DocID: "a", Rank: 0}}
	results := f.Fuse(fts, nil, defaultWeights())
	require.Len(t, results, 1)
	// FTS-only top hit can't reach the theoretical max (top rank in
	// both lists), so its normalized score stays below 1.0.
	assert.Less(t, results[0].Score, 1.0)
	expected := (defaultWeights().FTS / 61) / (defaultWeights().Semantic/61 + defaultWeights().FTS/61)
	assert.InDelta(t, expected, results[0].Score, 1e-9)
}

func TestFuse_SemanticSideWinsTagsOnOverlap(t *testing.T) {
	f := New(60)
	fts := []docstore.FTSHit{{DocID: "a", Rank: 0}}
	sem := []vectorstore.Match{{ID: "a", Tags: map[string]string{"project": "keep"}, Summary: "from semantic"}}

	results := f.Fuse(fts, sem, defaultWeights())
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Tags["project"])
	assert.Equal(t, "from semantic", results[0].Summary)
}

func TestFuse_DeterministicTieBreakByID(t *testing.T) {
	f := New(60)
	fts := []docstore.FTSHit{{DocID: "z", Rank: 0}}
	sem := []vectorstore.Match{{ID: "a"}}
	results := f.Fuse(fts, sem, Weights{Semantic: 1, FTS: 1})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}

func TestApplyRecencyDecay_OlderItemsScoreLower(t *testing.T) {
	now := model.UTCNow()
	old := "2020-01-01T00:00:00"

	results := []*FusedResult{
		{ID: "recent", Score: 1.0, Tags: map[string]string{"_updated": now}},
		{ID: "old", Score: 1.0, Tags: map[string]string{"_updated": old}},
	}
	decayed := ApplyRecencyDecay(results, now, 7)
	require.Len(t, decayed, 2)
	assert.Equal(t, "recent", decayed[0].ID)
	assert.Greater(t, decayed[0].Score, decayed[1].Score)
}

func TestApplyRecencyDecay_NoHalfLifeIsNoop(t *testing.T) {
	results := []*FusedResult{{ID: "a", Score: 1.0}}
	decayed := ApplyRecencyDecay(results, model.UTCNow(), 0)
	assert.Equal(t, results, decayed)
}

func TestApplyRecencyDecay_MissingUpdatedTagLeavesScoreUnchanged(t *testing.T) {
	results := []*FusedResult{{ID: "a", Score: 0.5}}
	decayed := ApplyRecencyDecay(results, model.UTCNow(), 7)
	require.Len(t, decayed, 1)
	assert.Equal(t, 0.5, decayed[0].Score)
}
