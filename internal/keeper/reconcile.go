package keeper

import (
	"context"
	"log/slog"

	"github.com/hughpyle/keep/internal/keepid"
)

// ReconcileResult reports what a reconcile pass found (and, when fix
// is requested, corrected) between DocumentStore and VectorStore.
type ReconcileResult struct {
	OrphanVectors     int
	MissingEmbeddings int
	ReindexEnqueued   int
	FullReindex       bool
	Fixed             bool
}

// Reconcile compares the DocumentStore and VectorStore id sets and
// reports any drift, backing the `reconcile --fix` CLI verb (spec §6).
// With fix=false it only reports; with fix=true it also deletes orphan
// vector entries, re-embeds documents missing one, and (if the vector
// store has migrated similarity metrics) enqueues a full reindex —
// the same corrective actions the automatic startup pass performs.
func (k *Keeper) Reconcile(ctx context.Context, fix bool) (ReconcileResult, error) {
	k.waitForReconcile(ctx)
	return k.reconcileOnce(ctx, fix)
}

// reconcileOnce compares DocumentStore and VectorStore id sets: vector
// entries with no matching document are orphans; documents with no
// vector entry are missing. If the vector store reports
// MigratedToCosine, a full reindex is reported/enqueued instead of the
// incremental diff.
func (k *Keeper) reconcileOnce(ctx context.Context, fix bool) (ReconcileResult, error) {
	result := ReconcileResult{Fixed: fix}

	if k.vectors.MigratedToCosine() {
		result.FullReindex = true
		docIDs, err := k.docs.ListIDs(ctx, k.collection)
		if err != nil {
			return result, err
		}
		if !fix || k.queue == nil {
			result.ReindexEnqueued = len(docIDs)
			return result, nil
		}
		for _, id := range docIDs {
			doc, err := k.docs.Get(ctx, k.collection, id)
			if err != nil || doc == nil {
				continue
			}
			if err := k.queue.Enqueue(ctx, id, k.collection, doc.Summary, "reindex", nil); err != nil {
				slog.Warn("reconcile: enqueue reindex failed", "id", id, "error", err)
				continue
			}
			result.ReindexEnqueued++
		}
		return result, nil
	}

	docIDs, err := k.docs.ListIDs(ctx, k.collection)
	if err != nil {
		return result, err
	}
	vecIDs, err := k.vectors.ListIDs(ctx)
	if err != nil {
		return result, err
	}
	docSet := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		docSet[id] = true
	}
	vecSet := make(map[string]bool, len(vecIDs))
	for _, id := range vecIDs {
		vecSet[id] = true
	}

	for _, id := range vecIDs {
		base := keepid.BaseID(id)
		if docSet[base] {
			continue
		}
		result.OrphanVectors++
		if !fix {
			continue
		}
		if err := k.vectors.Delete(ctx, id); err != nil {
			slog.Warn("reconcile: deleting orphan vector failed", "id", id, "error", err)
		}
	}

	if k.embedder == nil {
		return result, nil
	}
	for _, id := range docIDs {
		if vecSet[id] {
			continue
		}
		result.MissingEmbeddings++
		if !fix {
			continue
		}
		doc, err := k.docs.Get(ctx, k.collection, id)
		if err != nil || doc == nil {
			continue
		}
		embedding, err := k.embedOnce(ctx, doc.Summary)
		if err != nil {
			slog.Warn("reconcile: re-embedding missing doc failed", "id", id, "error", err)
			continue
		}
		// Re-check existence: the doc may have been deleted while we embedded.
		stillExists, err := k.docs.Exists(ctx, k.collection, id)
		if err != nil || !stillExists {
			continue
		}
		if err := k.vectors.Upsert(ctx, id, embedding, doc.Tags, doc.Summary); err != nil {
			slog.Warn("reconcile: upserting missing vector failed", "id", id, "error", err)
		}
	}
	return result, nil
}
