// Package model defines the wire and in-process types shared by the
// DocumentStore, VectorStore, PendingQueue, and Keeper: documents,
// archived versions, parts, edges, and the assembled display context
// returned by GetContext.
package model

import "time"

const timestampLayout = "2006-01-02T15:04:05"

// UTCNow returns the current instant formatted as keep's canonical
// timestamp: UTC, no zone suffix, second precision.
func UTCNow() string {
	return time.Now().UTC().Format(timestampLayout)
}

// ParseUTCTimestamp parses a stored timestamp, tolerating the legacy
// "Z"-suffixed and offset-suffixed forms in addition to the canonical
// bare format.
func ParseUTCTimestamp(ts string) (time.Time, error) {
	for _, layout := range []string{timestampLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Parse(timestampLayout, ts)
}

// LocalDate converts a stored UTC timestamp to a local-zone YYYY-MM-DD
// string for short-form display. Returns the first 10 bytes of the
// input (or the input itself) if it cannot be parsed.
func LocalDate(utcISO string) string {
	if utcISO == "" {
		return ""
	}
	t, err := ParseUTCTimestamp(utcISO)
	if err != nil {
		if len(utcISO) >= 10 {
			return utcISO[:10]
		}
		return utcISO
	}
	return t.Local().Format("2006-01-02")
}

// Document is a head record: the current (non-archived) state of an
// id within a collection.
type Document struct {
	Collection      string
	ID              string
	Summary         string
	Tags            map[string]string
	ContentHash     string // short, last 10 hex of SHA-256
	ContentHashFull string // full 64 hex
	CreatedAt       string
	UpdatedAt       string
	AccessedAt      string
}

// Version is an archived prior head, addressed by {ID}@v{Number}.
type Version struct {
	Collection  string
	ID          string
	Number      int
	Summary     string
	Tags        map[string]string
	ContentHash string
	ArchivedAt  string
}

// Part is one ordered slice of a document decomposed by an analyzer,
// addressed by {ID}@p{Number}.
type Part struct {
	Collection string
	ID         string
	Number     int
	Summary    string
	Content    string
	Tags       map[string]string
}

// Edge is a directed relationship materialized from a tagdoc-backed
// edge tag on a document's head (or, when version-path edges are
// enabled, an archived version).
type Edge struct {
	Collection  string
	SourceID    string
	Predicate   string
	TargetID    string
	InverseVerb string
	CreatedAt   string
}

// VersionInfo is the return shape of DocumentStore.ExtractVersions: one
// archived version moved from a source id to a target id.
type VersionInfo struct {
	Number      int
	Summary     string
	Tags        map[string]string
	ContentHash string
	ArchivedAt  string
}

// Item is a read-only snapshot of a document or sub-entry as returned
// by Find/GetContext: tags carry all system metadata, Score is set
// only in search results.
type Item struct {
	ID      string
	Summary string
	Tags    map[string]string
	Score   *float64
	Changed *bool
}

// Created returns the _created tag, if present.
func (it Item) Created() string { return it.Tags["_created"] }

// Updated returns the _updated tag, if present.
func (it Item) Updated() string { return it.Tags["_updated"] }

// Accessed returns the _accessed tag, if present.
func (it Item) Accessed() string { return it.Tags["_accessed"] }

// SimilarRef is a related-item reference shown alongside a focal item.
type SimilarRef struct {
	ID      string
	Offset  int // version offset; 0 = current
	Score   *float64
	Date    string
	Summary string
}

// MetaRef is a meta-doc match reference.
type MetaRef struct {
	ID      string
	Summary string
}

// VersionRef is a prior/next version reference for navigation.
type VersionRef struct {
	Offset  int
	Date    string
	Summary string
}

// PartRef is a part reference for display.
type PartRef struct {
	PartNum int
	Summary string
	Tags    map[string]string
}

// ItemContext is the complete, JSON-serializable display context for
// one item: assembled by Keeper.GetContext, consumed by the CLI
// renderer and REST/MCP surfaces alike.
type ItemContext struct {
	Item          Item
	ViewingOffset int
	Similar       []SimilarRef
	Meta          map[string][]MetaRef
	Parts         []PartRef
	FocusPart     *int
	ExpandParts   bool
	Prev          []VersionRef
	Next          []VersionRef
}

// PromptResult is a rendered agent prompt with injected context: the
// Prompt template may contain {get} and {find} placeholders that a
// renderer expands with Context and SearchResults.
type PromptResult struct {
	Context       *ItemContext
	SearchResults []Item
	Prompt        string
}

// PromptInfo summarizes an available agent prompt for listing.
type PromptInfo struct {
	Name    string
	Summary string
}
