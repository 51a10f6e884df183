package keeper

import (
	"context"
	"fmt"
	"strings"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
)

const tagDocPrefix = ".tag/"

func tagDocID(key string) string { return tagDocPrefix + key }

func truthy(v string) bool {
	return v != "" && v != "0" && strings.ToLower(v) != "false"
}

// validateConstrainedTags implements spec §4.4 step 3: for each
// user-supplied tag key K whose tagdoc (`.tag/K`) carries
// `_constrained=true`, the value must itself exist as a
// `.tag/K/V` document; otherwise the write is rejected with the list
// of currently-registered values.
func (k *Keeper) validateConstrainedTags(ctx context.Context, tags map[string]string) error {
	for key, value := range tags {
		if keepid.IsSystemTag(key) || value == "" {
			continue
		}
		tagdoc, err := k.docs.Get(ctx, k.collection, tagDocID(key))
		if err != nil {
			return err
		}
		if tagdoc == nil || !truthy(tagdoc.Tags["_constrained"]) {
			continue
		}
		valueDoc, err := k.docs.Get(ctx, k.collection, tagDocID(key)+"/"+value)
		if err != nil {
			return err
		}
		if valueDoc != nil {
			continue
		}
		valid, err := k.listConstrainedValues(ctx, key)
		if err != nil {
			return err
		}
		return kerrors.Constrained(key, value, valid)
	}
	return nil
}

func (k *Keeper) listConstrainedValues(ctx context.Context, key string) ([]string, error) {
	prefix := tagDocID(key) + "/"
	docs, err := k.docs.QueryByIDPrefix(ctx, k.collection, prefix)
	if err != nil {
		return nil, err
	}
	valid := make([]string, 0, len(docs))
	for _, d := range docs {
		valid = append(valid, strings.TrimPrefix(d.ID, prefix))
	}
	return valid, nil
}

// processTagdocInverse implements spec §4.4 step 10: writing
// `_inverse: V` onto `.tag/K` must also materialize `.tag/V` with
// `_inverse: K`, so the predicate pair closes bidirectionally. A
// conflicting pre-existing inverse on `.tag/V` is a hard error.
func (k *Keeper) processTagdocInverse(ctx context.Context, id string, tags map[string]string) error {
	if !strings.HasPrefix(id, tagDocPrefix) {
		return nil
	}
	key := strings.TrimPrefix(id, tagDocPrefix)
	inverseVerb := tags["_inverse"]
	if inverseVerb == "" || inverseVerb == key {
		return nil
	}

	inverseID := tagDocID(inverseVerb)
	existing, err := k.docs.Get(ctx, k.collection, inverseID)
	if err != nil {
		return err
	}
	if existing != nil {
		if current := existing.Tags["_inverse"]; current != "" {
			if current == key {
				return nil
			}
			return kerrors.Conflict("tagdoc " + inverseID + " already declares _inverse=" + current + ", cannot set " + key)
		}
	}

	newTags := map[string]string{}
	summary := ""
	if existing != nil {
		for k2, v2 := range keepid.FilterNonSystemTags(existing.Tags) {
			newTags[k2] = v2
		}
		summary = existing.Summary
	}
	newTags["_inverse"] = key

	hash, hashFull := keepid.ContentHash(summary)
	_, _, err = k.docs.Upsert(ctx, k.collection, inverseID, summary, newTags, hash, hashFull, "")
	return err
}

// processEdgeTags implements spec §4.4 step 11: for every tag key
// that is registered as an edge predicate (its tagdoc carries
// `_inverse`) and whose value changed on this write, the prior edge
// is deleted and a new one inserted; a non-sysdoc target that doesn't
// yet exist is auto-vivified as an entity. Targets beginning with `.`
// are skipped entirely: no edge, no sysdoc mutation.
func (k *Keeper) processEdgeTags(ctx context.Context, id string, before, after map[string]string) error {
	keys := map[string]bool{}
	for key := range before {
		keys[key] = true
	}
	for key := range after {
		keys[key] = true
	}

	for key := range keys {
		if keepid.IsSystemTag(key) {
			continue
		}
		oldVal, hadOld := before[key]
		newVal, hasNew := after[key]
		if hadOld && hasNew && oldVal == newVal {
			continue
		}

		tagdoc, err := k.docs.Get(ctx, k.collection, tagDocID(key))
		if err != nil {
			return err
		}
		if tagdoc == nil {
			continue
		}
		inverseVerb := tagdoc.Tags["_inverse"]
		if inverseVerb == "" {
			continue
		}

		if err := k.docs.DeleteEdgesForPredicate(ctx, k.collection, id, key); err != nil {
			return err
		}
		if !hasNew || newVal == "" || keepid.IsHidden(newVal) {
			continue
		}
		if err := k.docs.UpsertEdge(ctx, k.collection, id, key, newVal, inverseVerb); err != nil {
			return err
		}
		if err := k.autoVivify(ctx, newVal); err != nil {
			return err
		}
	}
	return nil
}

// processVersionPathEdges implements the `edges.include_version_path`
// decision: when enabled, an archived version's own tags also get
// edge-materialized under a versioned source id (`{id}@v{N}`), so a
// predicate that only held in a past version remains discoverable.
// Disabled by default (spec's Open Question decision) because most
// deployments want edges to reflect current state, not history.
func (k *Keeper) processVersionPathEdges(ctx context.Context, id string, archivedVersion int, archivedTags map[string]string) error {
	if !k.cfg.Edges.IncludeVersionPath || archivedVersion <= 0 {
		return nil
	}
	versionID := fmt.Sprintf("%s@v%d", id, archivedVersion)
	return k.processEdgeTags(ctx, versionID, nil, keepid.FilterNonSystemTags(archivedTags))
}

// autoVivify creates target as a bare entity document (no content,
// `_source=auto-vivify`) if it doesn't already exist.
func (k *Keeper) autoVivify(ctx context.Context, target string) error {
	exists, err := k.docs.Exists(ctx, k.collection, target)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, hashFull := keepid.ContentHash("")
	_, _, err = k.docs.Upsert(ctx, k.collection, target, "", map[string]string{"_source": "auto-vivify"}, hash, hashFull, "")
	return err
}
