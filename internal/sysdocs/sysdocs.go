// Package sysdocs bundles keep's built-in reference documents (tag
// definitions, meta-doc specs, analyze/summarize prompts) and
// migrates them into a store on first use, upgrading them in place
// when the bundled content changes while preserving user edits.
package sysdocs

import (
	"context"
	"embed"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/internal/pendingqueue"
)

//go:embed docs/*.md
var bundledFS embed.FS

// Version is the current bundled-content version. Bump it whenever a
// doc's content changes so Migrate re-syncs unedited copies.
const Version = 1

// docIDs maps bundled filename to the stable id it's stored under.
// Convention: filename sans .md, hyphens -> /, prefixed with `.`.
var docIDs = map[string]string{
	"now.md":                            ".now",
	"domains.md":                        ".domains",
	"library.md":                        ".library",
	"tag-act.md":                        ".tag/act",
	"tag-act-commitment.md":             ".tag/act/commitment",
	"tag-act-request.md":                ".tag/act/request",
	"tag-act-offer.md":                  ".tag/act/offer",
	"tag-act-assertion.md":              ".tag/act/assertion",
	"tag-act-assessment.md":             ".tag/act/assessment",
	"tag-act-declaration.md":            ".tag/act/declaration",
	"tag-status.md":                     ".tag/status",
	"tag-status-open.md":                ".tag/status/open",
	"tag-status-blocked.md":             ".tag/status/blocked",
	"tag-status-fulfilled.md":           ".tag/status/fulfilled",
	"tag-status-declined.md":            ".tag/status/declined",
	"tag-status-withdrawn.md":           ".tag/status/withdrawn",
	"tag-status-renegotiated.md":        ".tag/status/renegotiated",
	"tag-project.md":                    ".tag/project",
	"tag-topic.md":                      ".tag/topic",
	"tag-type.md":                       ".tag/type",
	"meta-todo.md":                      ".meta/todo",
	"meta-learnings.md":                 ".meta/learnings",
	"meta-genre.md":                     ".meta/genre",
	"meta-artist.md":                    ".meta/artist",
	"meta-album.md":                     ".meta/album",
	"prompt-analyze-conversation.md":   ".prompt/analyze/conversation",
	"prompt-analyze-default.md":        ".prompt/analyze/default",
	"prompt-summarize-conversation.md": ".prompt/summarize/conversation",
	"prompt-summarize-default.md":      ".prompt/summarize/default",
}

// bundledDoc is one parsed bundled file, ready to compare/upsert.
type bundledDoc struct {
	id      string
	content string
	tags    map[string]string
}

type frontmatter struct {
	Tags map[string]string `yaml:"tags"`
}

// loadBundled parses every embedded .md file's optional YAML
// frontmatter (a leading `---`-delimited block with a `tags` map)
// and returns one bundledDoc per known filename. Files with no
// matching docIDs entry are skipped.
func loadBundled() ([]bundledDoc, error) {
	entries, err := fs.ReadDir(bundledFS, "docs")
	if err != nil {
		return nil, err
	}
	var docs []bundledDoc
	for _, entry := range entries {
		id, known := docIDs[entry.Name()]
		if !known {
			continue
		}
		raw, err := bundledFS.ReadFile("docs/" + entry.Name())
		if err != nil {
			return nil, err
		}
		content, tags := splitFrontmatter(string(raw))
		docs = append(docs, bundledDoc{id: id, content: content, tags: tags})
	}
	return docs, nil
}

func splitFrontmatter(text string) (content string, tags map[string]string) {
	if !strings.HasPrefix(text, "---") {
		return text, map[string]string{}
	}
	parts := strings.SplitN(text, "---", 3)
	if len(parts) < 3 {
		return text, map[string]string{}
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil || fm.Tags == nil {
		return strings.TrimLeft(parts[2], "\n"), map[string]string{}
	}
	return strings.TrimLeft(parts[2], "\n"), fm.Tags
}

// oldIDRenames maps a previous-generation stable id to its current
// replacement. Carried over from an earlier on-disk format; a fresh
// store never has these ids, so the rename pass is a no-op for it and
// only fires when migrating a store built before this naming scheme.
var oldIDRenames = map[string]string{
	"_system:now":           ".now",
	"_system:conversations": ".conversations",
	"_system:domains":       ".domains",
	"_system:library":       ".library",
	"_tag:act":              ".tag/act",
	"_tag:status":           ".tag/status",
	"_tag:project":          ".tag/project",
	"_tag:topic":            ".tag/topic",
}

// MigrationStats reports what Migrate did.
type MigrationStats struct {
	Created int
	Updated int
	Skipped int
	Renamed int
}

// renameOldIDs moves any document stored under a pre-this-scheme id to
// its current stable id, preserving content/tags/embeddings already
// present (no re-embed) — or simply deletes the old row if the new id
// is already occupied.
func renameOldIDs(ctx context.Context, docs *docstore.Store, collection string) (int, error) {
	n := 0
	for oldID, newID := range oldIDRenames {
		oldDoc, err := docs.Get(ctx, collection, oldID)
		if err != nil {
			return n, err
		}
		if oldDoc == nil {
			continue
		}
		newExists, err := docs.Exists(ctx, collection, newID)
		if err != nil {
			return n, err
		}
		if !newExists {
			if _, _, err := docs.Upsert(ctx, collection, newID, oldDoc.Summary, oldDoc.Tags, oldDoc.ContentHash, oldDoc.ContentHashFull, oldDoc.CreatedAt); err != nil {
				return n, err
			}
		}
		if err := docs.Delete(ctx, collection, oldID, true); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Migrate loads bundled docs into collection, creating any that don't
// exist and updating any whose stored bundled_hash differs from the
// current content's hash — unless the existing doc's own content hash
// no longer matches its last-seen bundled_hash, which means a user
// edited it; those are left alone. New/changed docs are enqueued for
// background embedding rather than embedded inline, since system docs
// don't need to be searchable immediately. Migrate is safe to call
// repeatedly (e.g. retried every write until it succeeds); callers
// should skip the call entirely once they've recorded success at the
// current Version.
func Migrate(ctx context.Context, docs *docstore.Store, queue *pendingqueue.Queue, collection string) (MigrationStats, error) {
	var stats MigrationStats
	renamed, err := renameOldIDs(ctx, docs, collection)
	if err != nil {
		return stats, err
	}
	stats.Renamed = renamed

	bundled, err := loadBundled()
	if err != nil {
		return stats, err
	}

	for _, b := range bundled {
		short, full := keepid.ContentHash(b.content)
		tags := map[string]string{}
		for k, v := range b.tags {
			tags[k] = v
		}
		tags["category"] = "system"
		tags["bundled_hash"] = short

		existing, err := docs.Get(ctx, collection, b.id)
		if err != nil {
			return stats, err
		}
		if existing != nil {
			if prev, ok := existing.Tags["bundled_hash"]; ok && prev != "" && existing.ContentHash != prev {
				stats.Skipped++
				continue
			}
			if existing.Tags["bundled_hash"] == short {
				continue
			}
		}

		now := model.UTCNow()
		if existing != nil && existing.Tags["_created"] != "" {
			tags["_created"] = existing.Tags["_created"]
		} else {
			tags["_created"] = now
		}
		tags["_updated"] = now
		tags["_updated_date"] = now[:10]
		tags["_source"] = "inline"

		_, _, err = docs.Upsert(ctx, collection, b.id, b.content, tags, short, full, tags["_created"])
		if err != nil {
			return stats, err
		}
		if queue != nil {
			_ = queue.Enqueue(ctx, b.id, collection, b.content, "reindex", map[string]any{"tags": tags})
		}
		if existing != nil {
			stats.Updated++
		} else {
			stats.Created++
		}
	}
	return stats, nil
}

// Reset force-reloads every bundled doc, overwriting any user edits.
// Intended for recovery/testing, not normal operation.
func Reset(ctx context.Context, docs *docstore.Store, queue *pendingqueue.Queue, collection string) (int, error) {
	bundled, err := loadBundled()
	if err != nil {
		return 0, err
	}
	now := model.UTCNow()
	n := 0
	for _, b := range bundled {
		short, full := keepid.ContentHash(b.content)
		tags := map[string]string{}
		for k, v := range b.tags {
			tags[k] = v
		}
		tags["category"] = "system"
		tags["bundled_hash"] = short
		tags["_created"] = now
		tags["_updated"] = now
		tags["_updated_date"] = now[:10]
		tags["_source"] = "inline"

		if err := docs.Delete(ctx, collection, b.id, true); err != nil {
			return n, err
		}
		if _, _, err := docs.Upsert(ctx, collection, b.id, b.content, tags, short, full, now); err != nil {
			return n, err
		}
		if queue != nil {
			_ = queue.Enqueue(ctx, b.id, collection, b.content, "reindex", map[string]any{"tags": tags})
		}
		n++
	}
	return n, nil
}

// IDs returns every stable id this package bundles, for reconciliation
// and test fixtures.
func IDs() []string {
	ids := make([]string, 0, len(docIDs))
	for _, id := range docIDs {
		ids = append(ids, id)
	}
	return ids
}
