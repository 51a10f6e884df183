// Package keeper implements the write and read pipelines that sit
// atop DocumentStore, VectorStore, and PendingQueue: Put/Upsert/Tag/
// Delete/Revert/Move/Analyze/SetNow on the write side, Find/GetContext
// on the read side. It is keep's façade — the one type application
// code and the CLI actually call.
package keeper

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hughpyle/keep/internal/config"
	"github.com/hughpyle/keep/internal/deepsearch"
	"github.com/hughpyle/keep/internal/docstore"
	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/metaresolver"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/pendingqueue"
	"github.com/hughpyle/keep/internal/processors"
	"github.com/hughpyle/keep/internal/remoteclient"
	"github.com/hughpyle/keep/internal/search"
	"github.com/hughpyle/keep/internal/sysdocs"
	"github.com/hughpyle/keep/internal/vectorstore"
)

// reconcileWaitTimeout bounds how long a write waits on the startup
// reconcile goroutine before proceeding anyway, per spec §4.8.
const reconcileWaitTimeout = 10 * time.Second

// Embedder generates vector embeddings for text. Satisfied by
// internal/embed's provider implementations (ollama, static).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Keeper is the write/read façade over one collection.
type Keeper struct {
	docs       *docstore.Store
	vectors    *vectorstore.Store
	queue      *pendingqueue.Queue
	embedder   Embedder
	cfg        *config.Config
	collection string

	envTags map[string]string
	nowFunc func() string
	meta    *metaresolver.Resolver

	embedGroup singleflight.Group
	dedupCache *lru.Cache[string, []float32] // content hash -> embedding

	migrateMu   sync.Mutex
	migrateDone bool

	reconcileDone chan struct{}

	summarizer processors.Summarizer
	extractor  processors.Extractor
	remote     *remoteclient.Client
	analyzer   Analyzer
}

// New builds a Keeper over the given stores for one collection. It
// spawns a single background reconcile goroutine (spec §4.8) comparing
// DocumentStore and VectorStore id sets; write operations wait on its
// completion (bounded by reconcileWaitTimeout) before proceeding.
func New(docs *docstore.Store, vectors *vectorstore.Store, queue *pendingqueue.Queue, embedder Embedder, cfg *config.Config) *Keeper {
	cache, _ := lru.New[string, []float32](256)
	k := &Keeper{
		docs:          docs,
		vectors:       vectors,
		queue:         queue,
		embedder:      embedder,
		cfg:           cfg,
		collection:    cfg.Store.Collection,
		envTags:       map[string]string{},
		nowFunc:       model.UTCNow,
		dedupCache:    cache,
		reconcileDone: make(chan struct{}),
	}
	k.meta = metaresolver.New(docs, vectors, k.collection, cfg.Search.HalfLifeDays)
	k.startReconcile()
	return k
}

// SetNow overrides the clock used for created_at stamping (tests only).
func (k *Keeper) SetNow(fn func() string) {
	if fn == nil {
		fn = model.UTCNow
	}
	k.nowFunc = fn
}

// startReconcile runs the startup reconcile pass in the background,
// fixing whatever it finds, and never blocks New.
func (k *Keeper) startReconcile() {
	if k.vectors == nil {
		close(k.reconcileDone)
		return
	}
	go func() {
		defer close(k.reconcileDone)
		if _, err := k.reconcileOnce(context.Background(), true); err != nil {
			slog.Warn("startup reconcile failed", "error", err)
		}
	}()
}

// waitForReconcile blocks until the startup reconcile completes or
// reconcileWaitTimeout elapses, whichever comes first.
func (k *Keeper) waitForReconcile(ctx context.Context) {
	select {
	case <-k.reconcileDone:
	case <-time.After(reconcileWaitTimeout):
	case <-ctx.Done():
	}
}

// ensureSystemDocs migrates bundled system docs into the store if the
// configured version is behind sysdocs.Version. Deferred to the first
// write (so embeddings are available for the background reindex queue)
// and retried on every call until it succeeds, per spec §4.8.
func (k *Keeper) ensureSystemDocs(ctx context.Context) {
	k.migrateMu.Lock()
	defer k.migrateMu.Unlock()
	if k.migrateDone || k.cfg.Daemon.SystemDocsVersion >= sysdocs.Version {
		return
	}
	if _, err := sysdocs.Migrate(ctx, k.docs, k.queue, k.collection); err != nil {
		slog.Warn("system doc migration failed, will retry on next write", "error", err)
		return
	}
	k.cfg.Daemon.SystemDocsVersion = sysdocs.Version
	k.migrateDone = true
}

func mergeTagLayers(existing, defaultTags, envTags, userTags, systemTags map[string]string) map[string]string {
	merged := map[string]string{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range keepid.CasefoldTags(defaultTags) {
		merged[k] = v
	}
	for k, v := range envTags {
		merged[k] = v
	}
	for k, v := range keepid.CasefoldTags(keepid.FilterNonSystemTags(userTags)) {
		merged[k] = v
	}
	for k, v := range systemTags {
		merged[k] = v
	}
	return merged
}

func userTagsChanged(existing, merged map[string]string) bool {
	existingUser := keepid.FilterNonSystemTags(existing)
	mergedUser := keepid.FilterNonSystemTags(merged)
	return !keepid.TagsEqual(existingUser, mergedUser)
}

// UpsertResult is the outcome of a write: the resulting head item and
// whether its content actually changed (vs. a tags-only or no-op write).
type UpsertResult struct {
	Item    model.Item
	Changed bool
}

// Upsert is the Keeper's core write path: merge tag layers, detect
// no-op writes, truncate/queue summaries, and dual-write the document
// store and vector index. Grounded on the reference implementation's
// `_upsert`: existing tags are read first so change detection and tag
// merge happen before any embedding work.
func (k *Keeper) Upsert(ctx context.Context, id, content string, tags map[string]string, summary string, systemTags map[string]string, createdAt string) (*UpsertResult, error) {
	if err := keepid.ValidateID(id); err != nil {
		return nil, err
	}

	k.waitForReconcile(ctx)
	k.ensureSystemDocs(ctx)

	existingDoc, err := k.docs.Get(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	var existingTags map[string]string
	if existingDoc != nil {
		existingTags = keepid.FilterNonSystemTags(existingDoc.Tags)
	}

	newHashShort, newHashFull := keepid.ContentHash(content)
	merged := mergeTagLayers(existingTags, k.cfg.DefaultTags, k.envTags, tags, systemTags)

	if err := k.validateConstrainedTags(ctx, keepid.FilterNonSystemTags(merged)); err != nil {
		return nil, err
	}

	contentUnchanged := existingDoc != nil && existingDoc.ContentHash == newHashShort
	tagsChanged := existingDoc != nil && userTagsChanged(existingDoc.Tags, merged)

	if contentUnchanged && !tagsChanged && summary == "" {
		return &UpsertResult{Item: docToItem(existingDoc), Changed: false}, nil
	}

	maxLen := k.cfg.Summary.MaxLength
	var finalSummary string
	needsAsyncSummary := false
	switch {
	case summary != "":
		finalSummary = summary
		if len(finalSummary) > maxLen {
			finalSummary = finalSummary[:maxLen]
		}
	case contentUnchanged && tagsChanged:
		finalSummary = existingDoc.Summary
		needsAsyncSummary = len(content) > maxLen
	case len(content) <= maxLen:
		finalSummary = content
	default:
		finalSummary = content[:maxLen] + "..."
		needsAsyncSummary = true
	}

	result, contentChanged, err := k.docs.Upsert(ctx, k.collection, id, finalSummary, merged, newHashShort, newHashFull, createdAt)
	if err != nil {
		return nil, err
	}

	if needsAsyncSummary && k.queue != nil {
		if err := k.queue.Enqueue(ctx, id, k.collection, content, "summarize", nil); err != nil {
			return nil, err
		}
	}

	if k.embedder != nil && k.vectors != nil {
		if err := k.writeEmbedding(ctx, id, content, existingDoc, contentUnchanged, contentChanged, merged, finalSummary); err != nil {
			return nil, err
		}
	}

	if err := k.processTagdocInverse(ctx, id, merged); err != nil {
		return nil, err
	}
	if err := k.processEdgeTags(ctx, id, existingTags, keepid.FilterNonSystemTags(merged)); err != nil {
		return nil, err
	}

	return &UpsertResult{Item: docToItem(result), Changed: !contentUnchanged}, nil
}

func (k *Keeper) writeEmbedding(ctx context.Context, id, content string, existingDoc *model.Document, contentUnchanged, contentChanged bool, mergedTags map[string]string, summary string) error {
	// Capture the outgoing head's embedding before it's overwritten, so
	// an archived version keeps its own vector rather than inheriting
	// the new head's.
	var oldEmbedding []float32
	if existingDoc != nil && contentChanged && k.vectors != nil {
		if entry, _ := k.vectors.Get(ctx, id); entry != nil {
			oldEmbedding = entry.Vector
		}
	}

	embedding, err := k.embedOnce(ctx, content)
	if err != nil {
		return err
	}

	if err := k.vectors.Upsert(ctx, id, embedding, mergedTags, summary); err != nil {
		return err
	}

	if existingDoc != nil && contentChanged {
		maxVer, err := k.docs.MaxVersion(ctx, k.collection, id)
		if err != nil {
			return err
		}
		if maxVer > 0 {
			if oldEmbedding == nil {
				oldEmbedding, err = k.embedOnce(ctx, existingDoc.Summary)
				if err != nil {
					return err
				}
			}
			if err := k.vectors.UpsertVersion(ctx, id, maxVer, oldEmbedding, existingDoc.Tags, existingDoc.Summary); err != nil {
				return err
			}
			if err := k.processVersionPathEdges(ctx, id, maxVer, existingDoc.Tags); err != nil {
				return err
			}
		}
	}
	return nil
}

// embedOnce dedups identical content hashes via an LRU cache and
// collapses concurrent identical embed calls via singleflight,
// mirroring the reference implementation's donor-embedding reuse
// without a network round-trip.
func (k *Keeper) embedOnce(ctx context.Context, content string) ([]float32, error) {
	hash, _ := keepid.ContentHash(content)
	if k.dedupCache != nil {
		if v, ok := k.dedupCache.Get(hash); ok {
			return v, nil
		}
	}
	v, err, _ := k.embedGroup.Do(hash, func() (any, error) {
		return k.embedder.Embed(ctx, content)
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindProviderTransient, err)
	}
	emb := v.([]float32)
	if k.dedupCache != nil {
		k.dedupCache.Add(hash, emb)
	}
	return emb, nil
}

func docToItem(d *model.Document) model.Item {
	if d == nil {
		return model.Item{}
	}
	return model.Item{ID: d.ID, Summary: d.Summary, Tags: d.Tags}
}

// Tag merges tags onto an existing document without touching content
// (a metadata-only write through the same Upsert pipeline).
func (k *Keeper) Tag(ctx context.Context, id string, tags map[string]string) (*UpsertResult, error) {
	existing, err := k.docs.Get(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, kerrors.NotFound(id)
	}
	return k.Upsert(ctx, id, "", tags, existing.Summary, nil, "")
}

// Delete removes id. If deleteVersions, its archive and parts go too.
func (k *Keeper) Delete(ctx context.Context, id string, deleteVersions bool) error {
	if err := k.docs.Delete(ctx, k.collection, id, deleteVersions); err != nil {
		return err
	}
	if k.vectors != nil {
		if err := k.vectors.Delete(ctx, id); err != nil {
			return err
		}
		if deleteVersions {
			if err := k.vectors.DeleteParts(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Revert restores the most recently archived version to head.
func (k *Keeper) Revert(ctx context.Context, id string) (*model.Document, error) {
	doc, err := k.docs.RestoreLatestVersion(ctx, k.collection, id)
	if err != nil || doc == nil {
		return doc, err
	}
	if k.embedder != nil && k.vectors != nil {
		embedding, err := k.embedOnce(ctx, doc.Summary)
		if err != nil {
			return nil, err
		}
		if err := k.vectors.Upsert(ctx, id, embedding, doc.Tags, doc.Summary); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Move extracts archived versions (optionally tag-filtered, optionally
// only the current head) from sourceID into targetID.
func (k *Keeper) Move(ctx context.Context, sourceID, targetID string, tagFilter map[string]string, onlyCurrent bool) ([]model.VersionInfo, error) {
	moved, _, _, err := k.docs.ExtractVersions(ctx, k.collection, sourceID, targetID, tagFilter, onlyCurrent)
	return moved, err
}

// Analyze submits content for asynchronous analysis (e.g. entity/edge
// extraction) without writing a document — a metadoc or processor
// consumes the queued row.
func (k *Keeper) Analyze(ctx context.Context, id, content string, metadata map[string]any) error {
	if k.queue == nil {
		return kerrors.Dependency("no pending queue configured")
	}
	return k.queue.Enqueue(ctx, id, k.collection, content, "analyze", metadata)
}

// FindOptions configures Find's mode and filters.
type FindOptions struct {
	Query         string
	SimilarTo     string
	Tags          map[string]string
	Fulltext      bool
	Deep          bool
	IncludeSelf   bool
	IncludeHidden bool
	Limit         int
	Since         string
	Until         string
}

// Find implements the hybrid-search read pipeline: semantic kNN + FTS
// fused via RRF, recency decay, part/version uplift, hidden filtering,
// enrichment from the canonical DocumentStore, and truncate-then-touch.
func (k *Keeper) Find(ctx context.Context, opts FindOptions) ([]model.Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = k.cfg.Search.DefaultLimit
	}
	fetchLimit := limit * 3

	where := keepid.CasefoldTagsForIndex(opts.Tags)

	var fused []*search.FusedResult
	var queryEmbedding []float32
	isFulltextOnly := opts.Fulltext

	switch {
	case opts.SimilarTo != "":
		entry, err := k.vectors.Get(ctx, opts.SimilarTo)
		if err != nil {
			return nil, err
		}
		var matches []vectorstore.Match
		if entry != nil {
			queryEmbedding = entry.Vector
			matches, err = k.vectors.QuerySimilarByID(ctx, opts.SimilarTo, fetchLimit, where)
			if err != nil {
				return nil, err
			}
		} else {
			doc, err := k.docs.Get(ctx, k.collection, opts.SimilarTo)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				return nil, kerrors.NotFound(opts.SimilarTo)
			}
			embedding, err := k.embedOnce(ctx, doc.Summary)
			if err != nil {
				return nil, err
			}
			queryEmbedding = embedding
			matches, err = k.vectors.QueryEmbedding(ctx, embedding, fetchLimit, where)
			if err != nil {
				return nil, err
			}
		}
		fused = make([]*search.FusedResult, 0, len(matches))
		for i, m := range matches {
			if !opts.IncludeSelf && m.ID == opts.SimilarTo {
				continue
			}
			fused = append(fused, &search.FusedResult{ID: m.ID, Score: float64(m.Score), SemRank: i + 1, Tags: m.Tags, Summary: m.Summary})
		}

	case opts.Fulltext:
		hits, err := k.docs.QueryFTS(ctx, k.collection, opts.Query, fetchLimit)
		if err != nil {
			return nil, err
		}
		fused = make([]*search.FusedResult, 0, len(hits))
		for i, h := range hits {
			fused = append(fused, &search.FusedResult{ID: h.DocID, Score: 1.0 / float64(i+1), FTSRank: i + 1})
		}

	default:
		if opts.Query != "" && k.embedder != nil {
			var err error
			queryEmbedding, err = k.embedOnce(ctx, opts.Query)
			if err != nil {
				return nil, err
			}
		}
		var matches []vectorstore.Match
		if queryEmbedding != nil {
			var err error
			matches, err = k.vectors.QueryEmbedding(ctx, queryEmbedding, fetchLimit, where)
			if err != nil {
				return nil, err
			}
		}
		hits, err := k.docs.QueryFTS(ctx, k.collection, opts.Query, fetchLimit)
		if err != nil {
			return nil, err
		}
		fusion := search.New(k.cfg.Search.RRFConstant)
		fused = fusion.Fuse(hits, matches, search.Weights{Semantic: k.cfg.Search.SemanticWeight, FTS: k.cfg.Search.FTSWeight})
	}

	fused = search.ApplyRecencyDecay(fused, k.nowFunc(), k.cfg.Search.HalfLifeDays)
	fused = applySinceUntil(fused, opts.Since, opts.Until)
	fused = upliftPartsAndVersions(fused)
	if !opts.IncludeHidden {
		fused = filterHidden(fused)
	}

	// Deep search is silently skipped for pure-FTS queries and for
	// similar_to with no embedding available (spec §4.6).
	if opts.Deep && !isFulltextOnly && queryEmbedding != nil {
		fused = k.runDeep(ctx, opts, queryEmbedding, fused)
	}

	items, err := k.enrichAndTouch(ctx, fused, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// runDeep appends any deep-discovered items to fused (after the
// existing primaries, so truncate-to-limit in enrichAndTouch never
// lets deep results displace a ranked primary). Failures are logged
// and swallowed: deep search is an enrichment pass, not a required
// one.
func (k *Keeper) runDeep(ctx context.Context, opts FindOptions, queryEmbedding []float32, fused []*search.FusedResult) []*search.FusedResult {
	deps := deepsearch.Deps{
		Docs:       k.docs,
		Vectors:    k.vectors,
		Collection: k.collection,
		Fusion:     search.New(k.cfg.Search.RRFConstant),
		Weights:    search.Weights{Semantic: k.cfg.Search.SemanticWeight, FTS: k.cfg.Search.FTSWeight},
	}
	deep, err := deepsearch.Run(ctx, deps, opts.Query, queryEmbedding, fused, opts.IncludeHidden)
	if err != nil {
		slog.Warn("deep_search_failed", "error", err.Error())
		return fused
	}
	if deep == nil {
		return fused
	}

	seen := make(map[string]bool, len(fused))
	for _, r := range fused {
		seen[keepid.BaseID(r.ID)] = true
	}
	out := append([]*search.FusedResult{}, fused...)
	for _, inj := range deep.InjectedPrimaries {
		if seen[inj.ID] {
			continue
		}
		seen[inj.ID] = true
		out = append(out, inj)
	}
	for _, parent := range orderedGroupKeys(deep.Groups) {
		for _, c := range deep.Groups[parent] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			tags := map[string]string{}
			for tk, tv := range c.Tags {
				tags[tk] = tv
			}
			tags["_anchor_type"] = c.AnchorType
			tags["_anchor_id"] = c.AnchorID
			tags["_lane"] = c.Lane
			tags["_deep_parent"] = parent
			out = append(out, &search.FusedResult{ID: c.ID, Score: c.Score, Tags: tags, Summary: c.Summary})
		}
	}
	return out
}

func orderedGroupKeys(groups map[string][]*deepsearch.Candidate) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applySinceUntil(results []*search.FusedResult, since, until string) []*search.FusedResult {
	if since == "" && until == "" {
		return results
	}
	var out []*search.FusedResult
	for _, r := range results {
		date, ok := r.Tags["_updated_date"]
		if !ok {
			continue
		}
		if since != "" && date < since {
			continue
		}
		if until != "" && date > until {
			continue
		}
		out = append(out, r)
	}
	return out
}

func upliftPartsAndVersions(results []*search.FusedResult) []*search.FusedResult {
	byParent := map[string]*search.FusedResult{}
	order := make([]string, 0, len(results))
	for _, r := range results {
		parent := keepid.BaseID(r.ID)
		focusTag := ""
		if keepid.IsPartID(r.ID) {
			focusTag = "_focus_part"
		} else if keepid.IsVersionID(r.ID) {
			focusTag = "_focus_version"
		}

		existing, seen := byParent[parent]
		if !seen {
			clone := *r
			clone.ID = parent
			if focusTag != "" {
				if clone.Tags == nil {
					clone.Tags = map[string]string{}
				}
				clone.Tags[focusTag] = r.ID
				clone.Tags["_focus_summary"] = r.Summary
			}
			byParent[parent] = &clone
			order = append(order, parent)
			continue
		}
		if r.Score > existing.Score {
			existing.Score = r.Score
			if focusTag != "" {
				if existing.Tags == nil {
					existing.Tags = map[string]string{}
				}
				existing.Tags[focusTag] = r.ID
				existing.Tags["_focus_summary"] = r.Summary
			}
		}
	}
	out := make([]*search.FusedResult, 0, len(order))
	for _, id := range order {
		out = append(out, byParent[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func filterHidden(results []*search.FusedResult) []*search.FusedResult {
	var out []*search.FusedResult
	for _, r := range results {
		if !keepid.IsHidden(r.ID) {
			out = append(out, r)
		}
	}
	return out
}

func (k *Keeper) enrichAndTouch(ctx context.Context, results []*search.FusedResult, limit int) ([]model.Item, error) {
	if len(results) > limit {
		results = results[:limit]
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	docs, err := k.docs.GetMany(ctx, k.collection, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	items := make([]model.Item, 0, len(results))
	for _, r := range results {
		d, ok := byID[r.ID]
		if !ok {
			continue
		}
		tags := map[string]string{}
		for tk, tv := range d.Tags {
			tags[tk] = tv
		}
		for tk, tv := range r.Tags {
			if strings.HasPrefix(tk, "_focus_") || strings.HasPrefix(tk, "_anchor_") || tk == "_lane" || tk == "_deep_parent" {
				tags[tk] = tv
			}
		}
		score := r.Score
		item := model.Item{ID: d.ID, Summary: d.Summary, Tags: tags, Score: &score}
		items = append(items, item)
	}

	if err := k.docs.TouchMany(ctx, k.collection, ids); err != nil {
		return nil, err
	}
	return items, nil
}

// GetContext assembles the full display context for id: the target
// item, similar-for-display neighbors, meta-doc resolution, the part
// manifest, and version navigation.
func (k *Keeper) GetContext(ctx context.Context, id string, similarLimit, metaLimit int, includeSimilar, includeMeta, includeParts, includeVersions bool) (*model.ItemContext, error) {
	doc, err := k.docs.Get(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, kerrors.NotFound(id)
	}

	item := model.Item{ID: doc.ID, Summary: doc.Summary, Tags: doc.Tags}
	itemCtx := &model.ItemContext{Item: item}

	if includeSimilar && k.vectors != nil {
		matches, err := k.vectors.QuerySimilarByID(ctx, id, similarLimit+1, nil)
		if err != nil {
			return nil, err
		}
		for i, m := range matches {
			base := keepid.BaseID(m.ID)
			if base == id || keepid.IsHidden(base) {
				continue
			}
			itemCtx.Similar = append(itemCtx.Similar, model.SimilarRef{ID: base, Offset: i, Score: floatPtr(float64(m.Score)), Summary: m.Summary})
			if len(itemCtx.Similar) >= similarLimit {
				break
			}
		}
	}

	if includeParts {
		parts, err := k.docs.ListParts(ctx, k.collection, id)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			itemCtx.Parts = append(itemCtx.Parts, model.PartRef{PartNum: p.Number, Summary: p.Summary, Tags: p.Tags})
		}
	}

	if includeVersions {
		versions, err := k.docs.ListVersions(ctx, k.collection, id)
		if err != nil {
			return nil, err
		}
		for i, v := range versions {
			itemCtx.Prev = append(itemCtx.Prev, model.VersionRef{Offset: i + 1, Date: v.ArchivedAt, Summary: v.Summary})
		}
	}

	if includeMeta && k.meta != nil {
		refs, err := k.meta.ResolveMeta(ctx, id, metaLimit)
		if err != nil {
			return nil, err
		}
		itemCtx.Meta = refs
	}

	return itemCtx, nil
}

func floatPtr(f float64) *float64 { return &f }

// Close releases the underlying stores.
func (k *Keeper) Close() error {
	var firstErr error
	if k.docs != nil {
		if err := k.docs.Close(); err != nil {
			firstErr = err
		}
	}
	if k.vectors != nil {
		if err := k.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if k.queue != nil {
		if err := k.queue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
