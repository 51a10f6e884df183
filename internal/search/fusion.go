// Package search implements hybrid-search fusion: Reciprocal Rank
// Fusion over the DocumentStore's full-text hits and the VectorStore's
// kNN matches, with optional recency decay.
package search

import (
	"math"
	"sort"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/vectorstore"
)

// Weights are the RRF list weights: w_semantic=1, w_fts=2 by default.
type Weights struct {
	Semantic float64
	FTS      float64
}

// FusedResult is one result after RRF fusion of semantic and
// full-text hits, prior to part/version uplift and enrichment.
type FusedResult struct {
	ID          string
	Score       float64
	FTSRank     int // 1-indexed, 0 if absent
	SemRank     int // 1-indexed, 0 if absent
	InBothLists bool
	Tags        map[string]string
	Summary     string
}

// Fusion performs Reciprocal Rank Fusion: score(id) = Σ w_list / (k + rank),
// summed only over the lists an id actually appears in.
type Fusion struct {
	K int
}

// New returns a Fusion using k (the spec's RRFConstant, default 60).
func New(k int) *Fusion {
	if k <= 0 {
		k = 60
	}
	return &Fusion{K: k}
}

// Fuse combines FTS hits and semantic matches. When an id appears in
// both lists, the semantic side's tags/summary are preferred (it
// carries full casefolded tags already; the FTS side only carries an
// id). Results are sorted by score descending, then in-both-lists,
// then id for determinism, and finally normalized by the theoretical
// max-possible combined score (an id ranked first in every list) so
// the top-item score approaches but need not equal 1.0.
func (f *Fusion) Fuse(fts []docstore.FTSHit, sem []vectorstore.Match, weights Weights) []*FusedResult {
	if len(fts) == 0 && len(sem) == 0 {
		return nil
	}

	byID := make(map[string]*FusedResult, len(fts)+len(sem))
	getOrCreate := func(id string) *FusedResult {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &FusedResult{ID: id}
		byID[id] = r
		return r
	}

	for rank, hit := range fts {
		r := getOrCreate(hit.DocID)
		r.FTSRank = rank + 1
		r.Score += weights.FTS / float64(f.K+rank+1)
	}
	for rank, m := range sem {
		r := getOrCreate(m.ID)
		r.SemRank = rank + 1
		r.Score += weights.Semantic / float64(f.K+rank+1)
		r.Tags = m.Tags
		r.Summary = m.Summary
		if r.FTSRank > 0 {
			r.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		return a.ID < b.ID
	})

	maxPossible := weights.Semantic/float64(f.K+1) + weights.FTS/float64(f.K+1)
	if maxPossible > 0 {
		for _, r := range results {
			r.Score /= maxPossible
		}
	}
	return results
}

// ApplyRecencyDecay multiplies each result's score by
// 0.5^(days_elapsed/half_life_days) using the document's _updated
// timestamp, and re-sorts descending. Results lacking a parseable
// _updated tag are left undecayed (not dropped).
func ApplyRecencyDecay(results []*FusedResult, nowUTC string, halfLifeDays float64) []*FusedResult {
	if halfLifeDays <= 0 {
		return results
	}
	now, err := model.ParseUTCTimestamp(nowUTC)
	if err != nil {
		return results
	}
	for _, r := range results {
		updated, ok := r.Tags["_updated"]
		if !ok {
			continue
		}
		t, err := model.ParseUTCTimestamp(updated)
		if err != nil {
			continue
		}
		days := now.Sub(t).Hours() / 24
		if days < 0 {
			days = 0
		}
		r.Score *= math.Pow(0.5, days/halfLifeDays)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
