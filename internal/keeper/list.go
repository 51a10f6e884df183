package keeper

import (
	"context"
	"strconv"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/model"
)

// ListOptions configures List's filtering, sort order, and optional
// per-item history/part annotations (spec §6's "list" verb).
type ListOptions struct {
	Prefix         string
	TagKey         string
	Tags           map[string]string
	Since          string
	Until          string
	SortByAccessed bool
	Limit          int
	IncludeHistory bool
	IncludeParts   bool
}

// List returns recent items matching the given filters, newest first.
// Exactly one of Prefix, TagKey, or Tags narrows the candidate set;
// with none set it falls back to the collection's most recently
// touched documents.
func (k *Keeper) List(ctx context.Context, opts ListOptions) ([]model.Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = k.cfg.Search.DefaultLimit
	}

	var docs []*model.Document
	var err error
	switch {
	case opts.Prefix != "":
		docs, err = k.docs.QueryByIDPrefix(ctx, k.collection, opts.Prefix)
	case opts.TagKey != "":
		docs, err = k.docs.QueryByTagKey(ctx, k.collection, opts.TagKey, opts.Since, opts.Until)
	case len(opts.Tags) > 0:
		docs, err = k.docs.QueryByTags(ctx, k.collection, opts.Tags, limit)
	default:
		orderBy := docstore.OrderByUpdated
		if opts.SortByAccessed {
			orderBy = docstore.OrderByAccessed
		}
		docs, err = k.docs.ListRecent(ctx, k.collection, orderBy, limit)
	}
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(docs))
	for _, d := range docs {
		if len(items) >= limit {
			break
		}
		if opts.Since != "" || opts.Until != "" {
			date := d.Tags["_updated_date"]
			if opts.Since != "" && date < opts.Since {
				continue
			}
			if opts.Until != "" && date > opts.Until {
				continue
			}
		}
		tags := map[string]string{}
		for tk, tv := range d.Tags {
			tags[tk] = tv
		}
		if opts.IncludeHistory {
			n, err := k.docs.CountVersions(ctx, k.collection, d.ID)
			if err == nil {
				tags["_version_count"] = strconv.Itoa(n)
			}
		}
		if opts.IncludeParts {
			n, err := k.docs.PartCount(ctx, k.collection, d.ID)
			if err == nil {
				tags["_part_count"] = strconv.Itoa(n)
			}
		}
		items = append(items, model.Item{ID: d.ID, Summary: d.Summary, Tags: tags})
	}
	return items, nil
}
