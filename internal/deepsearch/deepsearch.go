// Package deepsearch implements keep's multi-hop discovery pass,
// appended to a hybrid Find when the caller asks for deep=true: it
// follows the tag/edge graph outward from the primary result set to
// surface documents that never would have scored highly on their own
// text or embedding, grouped under whichever primary they relate to.
package deepsearch

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/search"
	"github.com/hughpyle/keep/internal/vectorstore"
)

// Lane labels where a deep-discovered item came from, carried in its
// "_lane" tag for display/debugging.
const (
	LaneAuthoritative = "authoritative" // edge-following candidate, one-hop or two-hop
	LaneExtended      = "extended"      // not assigned: two-hop candidates are labelled LaneAuthoritative
	LaneTag           = "tag"           // tag-following fallback, no edges in the collection
)

// Candidate is one deep-discovered item, anchored under a primary.
type Candidate struct {
	ID         string
	Score      float64
	Tags       map[string]string
	Summary    string
	AnchorType string // "head", "version", or "part"
	AnchorID   string // the id actually matched (may carry @v/@p)
	Lane       string
}

// Result is the output of a deep pass: any synthetic entity primaries
// injected from the query (so callers can fold them into the outer
// primary list), plus a map of primary id -> discovered candidates.
type Result struct {
	InjectedPrimaries []*search.FusedResult
	Groups            map[string][]*Candidate
}

// tokenPattern matches a run of Unicode letters/digits, optionally
// followed by one trailing run of punctuation (so "Melanie?" and
// "Melanie" both yield a usable token; FindEdgeTargets tries both the
// raw and punctuation-stripped forms).
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+[\p{P}]*`)

// Tokenize splits q into lowercase-independent tokens per spec §4.6's
// entity-injection step: Unicode letters/digits, with any single
// trailing punctuation run folded into the same token. Both the raw
// and the punctuation-stripped form of each token are returned so
// exact-match lookups (FindEdgeTargets) can try either.
func Tokenize(q string) []string {
	raw := tokenPattern.FindAllString(q, -1)
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range raw {
		add(t)
		stripped := strings.TrimRightFunc(t, isPunct)
		add(stripped)
	}
	return out
}

func isPunct(r rune) bool {
	return strings.ContainsRune(".,!?;:'\"-()[]{}", r)
}

// Deps bundles the store handles a deep pass needs. It holds no
// embedder: the caller passes in the query embedding the hybrid search
// already computed, so deep search does not re-embed.
type Deps struct {
	Docs       *docstore.Store
	Vectors    *vectorstore.Store
	Collection string
	Fusion     *search.Fusion
	Weights    search.Weights
}

// Run performs one deep-search pass. primaries is the already fused,
// uplifted, hidden-filtered result set from the outer hybrid Find;
// queryEmbedding is the same embedding used for that hybrid pass (may
// be nil, in which case the embedding post-filter step is skipped).
// includeHidden mirrors the outer Find option. Returns nil, nil when
// deep has nothing to add (e.g. no query text to inject entities
// from and no tags to follow).
func Run(ctx context.Context, deps Deps, query string, queryEmbedding []float32, primaries []*search.FusedResult, includeHidden bool) (*Result, error) {
	hasEdges, err := deps.Docs.CollectionHasEdges(ctx, deps.Collection)
	if err != nil {
		return nil, err
	}
	if hasEdges {
		return runEdgeFollowing(ctx, deps, query, queryEmbedding, primaries, includeHidden)
	}
	return runTagFollowing(ctx, deps, primaries, includeHidden)
}

func primaryIDSet(primaries []*search.FusedResult) map[string]bool {
	set := make(map[string]bool, len(primaries))
	for _, p := range primaries {
		set[keepid.BaseID(p.ID)] = true
	}
	return set
}

// runEdgeFollowing implements spec §4.6's edge-following branch:
// synthetic entity injection, one- and two-hop edge traversal, scoped
// FTS, embedding post-filter, and within-candidate-set RRF fusion.
func runEdgeFollowing(ctx context.Context, deps Deps, query string, queryEmbedding []float32, primaries []*search.FusedResult, includeHidden bool) (*Result, error) {
	result := &Result{Groups: map[string][]*Candidate{}}

	injected, entityTokens, err := injectEntities(ctx, deps, query, primaries)
	if err != nil {
		return nil, err
	}
	result.InjectedPrimaries = injected

	allPrimaries := append(append([]*search.FusedResult{}, primaries...), injected...)
	excluded := primaryIDSet(allPrimaries)

	strippedQuery := stripEntityTokens(query, entityTokens)

	for _, p := range allPrimaries {
		parentID := keepid.BaseID(p.ID)
		candidateIDs, err := collectEdgeCandidates(ctx, deps, parentID)
		if err != nil {
			return nil, err
		}
		candidateIDs = removeIDs(candidateIDs, excluded)
		if len(candidateIDs) == 0 {
			continue
		}

		ftsHits, err := deps.Docs.QueryFTSScoped(ctx, deps.Collection, strippedQuery, candidateIDs, len(candidateIDs))
		if err != nil {
			return nil, err
		}

		var semMatches []vectorstore.Match
		if queryEmbedding != nil && deps.Vectors != nil {
			semMatches, err = embeddingRank(ctx, deps.Vectors, queryEmbedding, candidateIDs)
			if err != nil {
				return nil, err
			}
		}

		fused := deps.Fusion.Fuse(ftsHits, semMatches, deps.Weights)
		if len(fused) == 0 {
			continue
		}

		candidates := make([]*Candidate, 0, len(fused))
		for _, f := range fused {
			if excluded[keepid.BaseID(f.ID)] {
				continue
			}
			if !includeHidden && keepid.IsHidden(f.ID) {
				continue
			}
			candidates = append(candidates, &Candidate{
				ID:         keepid.BaseID(f.ID),
				Score:      f.Score,
				Tags:       f.Tags,
				Summary:    f.Summary,
				AnchorType: anchorType(f.ID),
				AnchorID:   f.ID,
				Lane:       LaneAuthoritative,
			})
		}
		if len(candidates) > 0 {
			result.Groups[parentID] = candidates
		}
	}

	if len(result.Groups) == 0 && len(result.InjectedPrimaries) == 0 {
		return nil, nil
	}
	return result, nil
}

// injectEntities finds edge-target ids mentioned by name in the query
// and adds any missing from primaries as synthetic high-scoring
// primaries, per spec §4.6 step 1.
func injectEntities(ctx context.Context, deps Deps, query string, primaries []*search.FusedResult) ([]*search.FusedResult, []string, error) {
	if query == "" {
		return nil, nil, nil
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil, nil
	}
	targets, err := deps.Docs.FindEdgeTargets(ctx, deps.Collection, tokens)
	if err != nil {
		return nil, nil, err
	}
	existing := primaryIDSet(primaries)
	var injected []*search.FusedResult
	var names []string
	for _, t := range targets {
		names = append(names, t)
		if existing[t] {
			continue
		}
		injected = append(injected, &search.FusedResult{ID: t, Score: 1.0})
		existing[t] = true
	}
	return injected, names, nil
}

// stripEntityTokens removes each injected entity name (as a phrase,
// and as its individual tokens) from query so the scoped FTS lookup
// isn't dominated by the entity name itself.
func stripEntityTokens(query string, entities []string) string {
	out := query
	for _, e := range entities {
		out = replaceFold(out, e, " ")
		for _, tok := range strings.Fields(e) {
			out = replaceFold(out, tok, " ")
		}
	}
	return strings.Join(strings.Fields(out), " ")
}

func replaceFold(s, target, replacement string) string {
	if target == "" {
		return s
	}
	lowerS := strings.ToLower(s)
	lowerT := strings.ToLower(target)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerS[i:], lowerT)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(replacement)
		i += idx + len(lowerT)
	}
	return b.String()
}

// collectEdgeCandidates gathers one-hop (inverse edges targeting
// parentID) and two-hop (parentID -> entity -> inverse edges of that
// entity) source ids.
func collectEdgeCandidates(ctx context.Context, deps Deps, parentID string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == parentID || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	oneHop, err := deps.Docs.GetInverseEdges(ctx, deps.Collection, parentID)
	if err != nil {
		return nil, err
	}
	for _, e := range oneHop {
		add(e.SourceID)
	}

	outbound, err := deps.Docs.GetOutboundEdges(ctx, deps.Collection, parentID)
	if err != nil {
		return nil, err
	}
	for _, e := range outbound {
		twoHop, err := deps.Docs.GetInverseEdges(ctx, deps.Collection, e.TargetID)
		if err != nil {
			return nil, err
		}
		for _, e2 := range twoHop {
			add(e2.SourceID)
		}
	}
	return out, nil
}

func removeIDs(ids []string, exclude map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !exclude[id] {
			out = append(out, id)
		}
	}
	return out
}

// anchorType classifies a sub-entry id for the Candidate.AnchorType field.
func anchorType(id string) string {
	switch {
	case keepid.IsPartID(id):
		return "part"
	case keepid.IsVersionID(id):
		return "version"
	default:
		return "head"
	}
}

// embeddingRank computes cosine similarity between queryEmbedding and
// each candidate id's stored vector, returning descending-score
// matches (the scoped substitute for VectorStore.QueryEmbedding, which
// only supports a tag where-clause, not an id allowlist).
func embeddingRank(ctx context.Context, vectors *vectorstore.Store, queryEmbedding []float32, ids []string) ([]vectorstore.Match, error) {
	type scored struct {
		entry vectorstore.Entry
		score float64
	}
	var scoredList []scored
	for _, id := range ids {
		entry, err := vectors.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry == nil || len(entry.Vector) == 0 {
			continue
		}
		scoredList = append(scoredList, scored{entry: *entry, score: cosine(queryEmbedding, entry.Vector)})
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	matches := make([]vectorstore.Match, 0, len(scoredList))
	for _, s := range scoredList {
		matches = append(matches, vectorstore.Match{
			ID: s.entry.ID, Tags: s.entry.Tags, Summary: s.entry.Summary, Score: float32(s.score),
		})
	}
	return matches, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fillerDFRatio is the document-frequency fraction above which a tag
// value is treated as too common to carry discovery signal in the
// tag-following branch (e.g. a status tag shared by most documents).
const fillerDFRatio = 0.5

// runTagFollowing implements spec §4.6's fallback branch for
// collections with no edges: IDF-weighted co-tag scoring, grouping
// each candidate under whichever primary it shares the most weight
// with.
func runTagFollowing(ctx context.Context, deps Deps, primaries []*search.FusedResult, includeHidden bool) (*Result, error) {
	total, err := deps.Docs.Count(ctx, deps.Collection)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	excluded := primaryIDSet(primaries)

	// candidateID -> primaryID -> accumulated IDF weight
	weights := map[string]map[string]float64{}
	candidateMeta := map[string]*model.Document{}

	for _, p := range primaries {
		parentID := keepid.BaseID(p.ID)
		doc, err := deps.Docs.Get(ctx, deps.Collection, parentID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		for key, value := range doc.Tags {
			if keepid.IsSystemTag(key) || value == "" {
				continue
			}
			matches, err := deps.Docs.QueryByTag(ctx, deps.Collection, key, value)
			if err != nil {
				return nil, err
			}
			df := len(matches)
			if df == 0 || float64(df) > fillerDFRatio*float64(total) {
				continue
			}
			idf := math.Log((float64(total) + 1) / (float64(df) + 1))
			for _, m := range matches {
				if excluded[m.ID] {
					continue
				}
				if !includeHidden && keepid.IsHidden(m.ID) {
					continue
				}
				if weights[m.ID] == nil {
					weights[m.ID] = map[string]float64{}
				}
				weights[m.ID][parentID] += idf
				candidateMeta[m.ID] = m
			}
		}
	}

	groups := map[string][]*Candidate{}
	for candID, byParent := range weights {
		bestParent, bestWeight := "", -1.0
		for parent, w := range byParent {
			if w > bestWeight {
				bestParent, bestWeight = parent, w
			}
		}
		if bestParent == "" {
			continue
		}
		doc := candidateMeta[candID]
		groups[bestParent] = append(groups[bestParent], &Candidate{
			ID:         candID,
			Score:      bestWeight,
			Tags:       doc.Tags,
			Summary:    doc.Summary,
			AnchorType: "head",
			AnchorID:   candID,
			Lane:       LaneTag,
		})
	}
	for parent := range groups {
		sort.SliceStable(groups[parent], func(i, j int) bool {
			return groups[parent][i].Score > groups[parent][j].Score
		})
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return &Result{Groups: groups}, nil
}
