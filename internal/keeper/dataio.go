package keeper

import (
	"context"

	"github.com/hughpyle/keep/internal/model"
)

// ExportDocument bundles one document's head, archived versions, and
// decomposed parts — the unit of work for the `data export`/`data
// import` CLI verb's streaming JSON round-trip (spec §6). Embeddings
// are deliberately excluded: import re-enqueues every document for the
// embed task so vectors are regenerated against the importing store's
// own embedder/model, never carried across stores.
type ExportDocument struct {
	Doc      model.Document
	Versions []*model.Version
	Parts    []model.Part
}

// ListAllIDs returns every head id in the collection, for export.
func (k *Keeper) ListAllIDs(ctx context.Context) ([]string, error) {
	return k.docs.ListIDs(ctx, k.collection)
}

// ExportDocument assembles one document's full exportable state.
func (k *Keeper) ExportDocument(ctx context.Context, id string) (*ExportDocument, error) {
	doc, err := k.docs.Get(ctx, k.collection, id)
	if err != nil || doc == nil {
		return nil, err
	}
	versions, err := k.docs.ListVersions(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	parts, err := k.docs.ListParts(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	return &ExportDocument{Doc: *doc, Versions: versions, Parts: parts}, nil
}

// ImportDocument writes one previously exported document's head,
// versions, and parts verbatim, then enqueues it for re-embedding.
// Callers in "merge" mode should skip ids that already exist before
// calling this; "replace" mode callers should clear the collection
// first via ClearCollection.
func (k *Keeper) ImportDocument(ctx context.Context, ed *ExportDocument) error {
	ed.Doc.Collection = k.collection
	if err := k.docs.PutDocumentRaw(ctx, &ed.Doc); err != nil {
		return err
	}
	for _, v := range ed.Versions {
		v.Collection = k.collection
		if err := k.docs.PutVersionRaw(ctx, k.collection, ed.Doc.ID, *v); err != nil {
			return err
		}
	}
	if len(ed.Parts) > 0 {
		if err := k.docs.UpsertParts(ctx, k.collection, ed.Doc.ID, ed.Parts); err != nil {
			return err
		}
	}
	if k.queue != nil {
		_ = k.queue.Enqueue(ctx, ed.Doc.ID, k.collection, ed.Doc.Summary, "embed", nil)
	}
	return nil
}

// DocumentExists reports whether id already has a head document, for
// "merge" mode's skip-existing rule.
func (k *Keeper) DocumentExists(ctx context.Context, id string) (bool, error) {
	return k.docs.Exists(ctx, k.collection, id)
}

// ClearCollection removes every document, version, part, edge, and FTS
// row in the collection, for "replace" mode import.
func (k *Keeper) ClearCollection(ctx context.Context) error {
	return k.docs.DeleteCollectionAll(ctx, k.collection)
}

// Collection returns the store collection name this Keeper operates
// against, for the export file's store_info block.
func (k *Keeper) Collection() string {
	return k.collection
}
