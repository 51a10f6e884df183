package keeper

import (
	"context"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

// RetryFailed resets every dead-lettered queue item back to pending,
// returning the count reset — backs the `pending --retry` CLI verb.
func (k *Keeper) RetryFailed(ctx context.Context) (int, error) {
	if k.queue == nil {
		return 0, kerrors.Dependency("no pending queue configured")
	}
	return k.queue.RetryFailed(ctx)
}

// QueueStats reports the pending queue's total depth and a per-task-type
// breakdown, for `pending`'s default (no-flag) display and the TUI.
func (k *Keeper) QueueStats(ctx context.Context) (total int, byType map[string]int, err error) {
	if k.queue == nil {
		return 0, nil, kerrors.Dependency("no pending queue configured")
	}
	total, err = k.queue.Count(ctx)
	if err != nil {
		return 0, nil, err
	}
	byType, err = k.queue.StatsByType(ctx)
	if err != nil {
		return 0, nil, err
	}
	return total, byType, nil
}

// EnqueueReindexAll enqueues a reindex task for every document in the
// collection, unconditionally, for `pending --reindex`'s forced
// full-reindex sweep (distinct from Reconcile's drift-triggered one).
func (k *Keeper) EnqueueReindexAll(ctx context.Context) (int, error) {
	if k.queue == nil {
		return 0, kerrors.Dependency("no pending queue configured")
	}
	ids, err := k.docs.ListIDs(ctx, k.collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		doc, err := k.docs.Get(ctx, k.collection, id)
		if err != nil || doc == nil {
			continue
		}
		if err := k.queue.Enqueue(ctx, id, k.collection, doc.Summary, "reindex", nil); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
