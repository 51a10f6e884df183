package keeper

import (
	"context"

	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/model"
)

// GetVersion renders an archived version directly, for the CLI's
// "{id}@v{N}" get form (spec §6).
func (k *Keeper) GetVersion(ctx context.Context, id string, offset int) (*model.Version, error) {
	return k.docs.GetVersion(ctx, k.collection, id, offset)
}

// GetPart renders a decomposed part directly, for the CLI's
// "{id}@p{N}" get form (spec §6).
func (k *Keeper) GetPart(ctx context.Context, id string, partNum int) (*model.Part, error) {
	return k.docs.GetPart(ctx, k.collection, id, partNum)
}

// DeleteVersion permanently removes one archived version (by offset,
// 1=most recently archived) and its vector entry, leaving the head and
// every other version untouched — the CLI's "del {id}@v{N}" form
// (spec §6), distinct from Revert which restores a version to head.
func (k *Keeper) DeleteVersion(ctx context.Context, id string, offset int) (bool, error) {
	v, err := k.docs.GetVersion(ctx, k.collection, id, offset)
	if err != nil || v == nil {
		return false, err
	}
	deleted, err := k.docs.DeleteVersion(ctx, k.collection, id, v.Number)
	if err != nil || !deleted {
		return deleted, err
	}
	if k.vectors != nil {
		_ = k.vectors.Delete(ctx, keepid.VersionSuffixedID(id, v.Number))
	}
	return true, nil
}
