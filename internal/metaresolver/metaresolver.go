// Package metaresolver implements keep's `.meta/*` DSL: small
// documents under the `.meta/` prefix whose summary lines describe
// expanded tag queries to run against an anchor item, producing
// grouped "see also" sections for display.
package metaresolver

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/vectorstore"
)

const metaPrefix = ".meta/"

// Resolver resolves `.meta/*` documents against an anchor item.
type Resolver struct {
	docs       *docstore.Store
	vectors    *vectorstore.Store
	collection string
	halfLife   float64
}

// New builds a Resolver over docs/vectors for one collection.
// halfLifeDays enables the same recency-decay curve used by Find
// (0 disables it).
func New(docs *docstore.Store, vectors *vectorstore.Store, collection string, halfLifeDays float64) *Resolver {
	return &Resolver{docs: docs, vectors: vectors, collection: collection, halfLife: halfLifeDays}
}

// metaSpec is one parsed `.meta/*` document: fixed query lines
// ("key=value"), context keys ("key=", filled from the anchor's own
// tag value), and prerequisite keys ("key=*", the anchor must carry
// at least one to activate this meta).
type metaSpec struct {
	queryLines  map[string]string
	contextKeys []string
	prereqKeys  []string
}

func parseMetaSpec(summary string) metaSpec {
	spec := metaSpec{queryLines: map[string]string{}}
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case value == "*":
			spec.prereqKeys = append(spec.prereqKeys, key)
		case value == "":
			spec.contextKeys = append(spec.contextKeys, key)
		default:
			spec.queryLines[key] = value
		}
	}
	return spec
}

func shortName(id string) string {
	return strings.TrimPrefix(id, metaPrefix)
}

func truthy(v string) bool {
	return v != "" && v != "0" && strings.ToLower(v) != "false"
}

// ResolveMeta iterates every `.meta/*` document and, for each whose
// prerequisites are satisfied by anchorID, runs its expanded queries
// and returns up to limitPerDoc ranked candidates per meta name.
// Meta names with no surviving candidates are omitted.
func (r *Resolver) ResolveMeta(ctx context.Context, anchorID string, limitPerDoc int) (map[string][]model.MetaRef, error) {
	anchor, err := r.docs.Get(ctx, r.collection, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}

	metaDocs, err := r.docs.QueryByIDPrefix(ctx, r.collection, metaPrefix)
	if err != nil {
		return nil, err
	}

	result := map[string][]model.MetaRef{}
	for _, md := range metaDocs {
		name := shortName(md.ID)
		spec := parseMetaSpec(md.Summary)
		refs, err := r.resolveOne(ctx, anchor, name, spec, limitPerDoc)
		if err != nil {
			return nil, err
		}
		if len(refs) > 0 {
			result[name] = refs
		}
	}
	return result, nil
}

// ResolveInlineMeta runs one ad hoc meta spec (as if it were a
// `.meta/*` document's parsed contents) without requiring the
// document to exist on disk.
func (r *Resolver) ResolveInlineMeta(ctx context.Context, anchorID string, queryLines map[string]string, contextKeys, prereqKeys []string, limit int) ([]model.MetaRef, error) {
	anchor, err := r.docs.Get(ctx, r.collection, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}
	spec := metaSpec{queryLines: queryLines, contextKeys: contextKeys, prereqKeys: prereqKeys}
	return r.resolveOne(ctx, anchor, "", spec, limit)
}

func (r *Resolver) resolveOne(ctx context.Context, anchor *model.Document, name string, spec metaSpec, limit int) ([]model.MetaRef, error) {
	if len(spec.prereqKeys) > 0 {
		satisfied := false
		for _, key := range spec.prereqKeys {
			if truthy(anchor.Tags[key]) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return nil, nil
		}
	}

	queries := expandQueries(anchor, spec)
	if len(queries) == 0 {
		return nil, nil
	}

	candidates := map[string]*model.Document{}
	for _, q := range queries {
		docs, err := r.docs.QueryByTags(ctx, r.collection, q, 100)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if d.ID == anchor.ID || keepid.IsHidden(d.ID) {
				continue
			}
			candidates[d.ID] = d
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := r.rank(ctx, anchor, candidates)
	ranked = routeProvisional(ranked, name)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// expandQueries builds the cross-product of spec.queryLines (fixed,
// always applied) with one value per context key pulled from the
// anchor's own (non-system) tags. A context key absent on the anchor
// drops out of the product entirely; an anchor with no satisfied
// context keys and no fixed query lines yields no queries.
func expandQueries(anchor *model.Document, spec metaSpec) []map[string]string {
	base := map[string]string{}
	for k, v := range spec.queryLines {
		base[k] = v
	}

	if len(spec.contextKeys) == 0 {
		if len(base) == 0 {
			return nil
		}
		return []map[string]string{base}
	}

	queries := []map[string]string{base}
	for _, key := range spec.contextKeys {
		if keepid.IsSystemTag(key) {
			continue
		}
		value, ok := anchor.Tags[key]
		if !ok || value == "" {
			continue
		}
		next := make([]map[string]string, 0, len(queries))
		for _, q := range queries {
			expanded := map[string]string{}
			for k, v := range q {
				expanded[k] = v
			}
			expanded[key] = value
			next = append(next, expanded)
		}
		queries = next
	}
	if len(queries) == 1 && len(queries[0]) == 0 {
		return nil
	}
	return queries
}

// rank orders candidates by cosine similarity to the anchor (when
// embeddings are available) times recency decay, descending.
func (r *Resolver) rank(ctx context.Context, anchor *model.Document, candidates map[string]*model.Document) []model.MetaRef {
	type scored struct {
		doc   *model.Document
		score float64
	}
	var anchorEntry *vectorstore.Entry
	if r.vectors != nil {
		anchorEntry, _ = r.vectors.Get(ctx, anchor.ID)
	}

	var scoredList []scored
	for _, d := range candidates {
		score := 1.0
		if r.vectors != nil && anchorEntry != nil {
			if entry, _ := r.vectors.Get(ctx, d.ID); entry != nil {
				score = cosine(anchorEntry.Vector, entry.Vector)
			}
		}
		score *= recencyFactor(d.Tags["_updated"], r.halfLife)
		scoredList = append(scoredList, scored{doc: d, score: score})
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	refs := make([]model.MetaRef, 0, len(scoredList))
	for _, s := range scoredList {
		refs = append(refs, model.MetaRef{ID: s.doc.ID, Summary: s.doc.Summary})
	}
	return refs
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

func recencyFactor(updatedISO string, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 || updatedISO == "" {
		return 1
	}
	t, err := model.ParseUTCTimestamp(updatedISO)
	if err != nil {
		return 1
	}
	now, err := model.ParseUTCTimestamp(model.UTCNow())
	if err != nil {
		return 1
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/halfLifeDays)
}

// routeProvisional replaces a part (`@p{N}`) candidate whose parent
// isn't already a direct match for the same meta with a ref showing the
// parent id and the part's summary, kept in the same list; parts whose
// parent already matched directly are dropped (the parent's own ref
// stands in for it). It produces no separate "{name}/provisional"
// group; name is not used.
func routeProvisional(refs []model.MetaRef, name string) []model.MetaRef {
	directParents := map[string]bool{}
	for _, ref := range refs {
		if !keepid.IsPartID(ref.ID) {
			directParents[ref.ID] = true
		}
	}
	out := make([]model.MetaRef, 0, len(refs))
	for _, ref := range refs {
		if !keepid.IsPartID(ref.ID) {
			out = append(out, ref)
			continue
		}
		parent := keepid.BaseID(ref.ID)
		if directParents[parent] {
			continue
		}
		out = append(out, model.MetaRef{ID: parent, Summary: ref.Summary})
	}
	return out
}
