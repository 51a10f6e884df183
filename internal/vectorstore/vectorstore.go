// Package vectorstore implements keep's approximate-nearest-neighbor
// index: an HNSW graph (github.com/coder/hnsw) carrying a casefolded
// tag map and a summary snapshot alongside each embedding, so semantic
// search can prefilter by metadata without round-tripping to
// docstore. It mirrors a subset of the canonical DocumentStore data;
// DocumentStore remains the source of truth for original-case tags.
package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
)

// Entry is one indexed item: an id (head, "{id}@v{N}", or "{id}@p{N}"),
// its casefolded tags, and a summary snapshot. Vector carries the
// normalized embedding so QuerySimilarByID can re-query the graph
// without the caller re-embedding the source item.
type Entry struct {
	ID      string
	Tags    map[string]string
	Summary string
	Vector  []float32
}

// Match is one kNN or metadata query result.
type Match struct {
	ID       string
	Tags     map[string]string
	Summary  string
	Distance float32
	Score    float32
}

// Store is the embedding index for one collection.
type Store struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	metric string

	dimension int

	idMap  map[string]uint64
	keyMap map[uint64]string
	meta   map[string]Entry
	next   uint64

	migratedToCosine bool
	closed           bool
}

type persisted struct {
	IDMap            map[string]uint64
	Meta             map[string]Entry
	Next             uint64
	Dimension        int
	Metric           string
	MigratedToCosine bool
}

// New creates an empty vector store using cosine distance, matching
// the teacher's HNSWStore defaults (coder/hnsw pure-Go graph, no CGO).
func New() *Store {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &Store{
		graph:  graph,
		metric: "cos",
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]Entry),
	}
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sumSquares float64
	for _, x := range out {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return out
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range out {
		out[i] *= inv
	}
	return out
}

func distanceToScore(d float32) float32 {
	return 1.0 - d/2.0
}

// Upsert writes or replaces the embedding and metadata for a head id.
// Sets the store's embedding dimension if unset.
func (s *Store) Upsert(ctx context.Context, id string, embedding []float32, tags map[string]string, summary string) error {
	return s.upsertEntry(id, embedding, tags, summary)
}

// UpsertVersion writes the embedding for "{id}@v{N}".
func (s *Store) UpsertVersion(ctx context.Context, id string, number int, embedding []float32, tags map[string]string, summary string) error {
	return s.upsertEntry(keepid.VersionSuffixedID(id, number), embedding, tags, summary)
}

// UpsertPart writes the embedding for "{id}@p{N}".
func (s *Store) UpsertPart(ctx context.Context, id string, number int, embedding []float32, tags map[string]string, summary string) error {
	return s.upsertEntry(keepid.PartSuffixedID(id, number), embedding, tags, summary)
}

func (s *Store) upsertEntry(id string, embedding []float32, tags map[string]string, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kerrors.IOErr("vector store is closed", nil)
	}

	if s.dimension == 0 {
		s.dimension = len(embedding)
	}
	if len(embedding) != s.dimension {
		return kerrors.Invalid("embedding dimension mismatch", nil)
	}

	if existingKey, ok := s.idMap[id]; ok {
		delete(s.keyMap, existingKey)
		delete(s.idMap, id)
	}

	key := s.next
	s.next++
	vec := normalize(embedding)
	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.meta[id] = Entry{ID: id, Tags: keepid.CasefoldTagsForIndex(tags), Summary: summary, Vector: vec}
	return nil
}

// UpsertBatch upserts several head entries one at a time, each under its
// own lock; an error stops the batch and leaves earlier entries written.
func (s *Store) UpsertBatch(ctx context.Context, entries []Entry, embeddings [][]float32) error {
	for i, e := range entries {
		if err := s.Upsert(ctx, e.ID, embeddings[i], e.Tags, e.Summary); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the metadata entry for id, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.meta[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// GetEntriesFull returns every stored entry for the given ids that exist.
func (s *Store) GetEntriesFull(ctx context.Context, ids []string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.meta[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Exists reports whether id is indexed.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok, nil
}

// Delete removes id (lazy deletion: the HNSW node is orphaned, not
// physically removed, matching the teacher's lazy-delete strategy to
// avoid a known coder/hnsw issue deleting the last graph node).
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteEntries(ctx, []string{id})
}

// DeleteEntries removes several ids at once.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.meta, id)
		}
	}
	return nil
}

// DeleteParts removes every "{id}@p{N}" entry for id.
func (s *Store) DeleteParts(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := id + "@p"
	var toDelete []string
	for existingID := range s.idMap {
		if len(existingID) > len(prefix) && existingID[:len(prefix)] == prefix {
			toDelete = append(toDelete, existingID)
		}
	}
	for _, existingID := range toDelete {
		key := s.idMap[existingID]
		delete(s.keyMap, key)
		delete(s.idMap, existingID)
		delete(s.meta, existingID)
	}
	return nil
}

// DeleteCollection removes every entry, resetting the graph and
// clearing the stored embedding dimension.
func (s *Store) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	s.graph = graph
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.meta = make(map[string]Entry)
	s.next = 0
	s.dimension = 0
	return nil
}

// ListIDs returns every indexed id.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// FindMissingIDs returns the subset of ids not present in the store
// (used to detect documents that need a (re)embed pass enqueued).
func (s *Store) FindMissingIDs(ctx context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.idMap[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// QueryEmbedding returns the k nearest neighbors to embedding,
// optionally restricted to entries whose casefolded tags satisfy
// where (every key/value pair must match, also casefolded).
func (s *Store) QueryEmbedding(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kerrors.IOErr("vector store is closed", nil)
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}
	query := normalize(embedding)

	k := limit
	if len(where) > 0 {
		k = limit * 8
		if k > s.graph.Len() {
			k = s.graph.Len()
		}
	}

	casefoldedWhere := keepid.CasefoldTagsForIndex(where)
	nodes := s.graph.Search(query, k)
	out := make([]Match, 0, limit)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		entry := s.meta[id]
		if !tagsMatch(entry.Tags, casefoldedWhere) {
			continue
		}
		d := s.graph.Distance(query, node.Value)
		out = append(out, Match{ID: id, Tags: entry.Tags, Summary: entry.Summary, Distance: d, Score: distanceToScore(d)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// QuerySimilarByID queries the graph using id's own stored vector,
// for "find things like this one" without a fresh embed call. Returns
// nil, nil if id is not indexed.
func (s *Store) QuerySimilarByID(ctx context.Context, id string, limit int, where map[string]string) ([]Match, error) {
	s.mu.RLock()
	entry, ok := s.meta[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.QueryEmbedding(ctx, entry.Vector, limit, where)
}

func tagsMatch(tags, where map[string]string) bool {
	for k, v := range where {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// QueryMetadata returns every entry whose casefolded tags satisfy
// where, up to limit, with no vector comparison.
func (s *Store) QueryMetadata(ctx context.Context, where map[string]string, limit int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	casefoldedWhere := keepid.CasefoldTagsForIndex(where)
	var out []Match
	for id, entry := range s.meta {
		if !tagsMatch(entry.Tags, casefoldedWhere) {
			continue
		}
		out = append(out, Match{ID: id, Tags: entry.Tags, Summary: entry.Summary})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// QueryFulltext performs a naive substring match over summaries (the
// vector store's FTS is a coarse prefilter; docstore's FTS5 index is
// authoritative for ranked full-text search).
func (s *Store) QueryFulltext(ctx context.Context, q string, limit int, where map[string]string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	casefoldedWhere := keepid.CasefoldTagsForIndex(where)
	var out []Match
	for id, entry := range s.meta {
		if !tagsMatch(entry.Tags, casefoldedWhere) {
			continue
		}
		if containsFold(entry.Summary, q) {
			out = append(out, Match{ID: id, Tags: entry.Tags, Summary: entry.Summary})
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	h, n := []rune(haystack), []rune(needle)
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			hc, nc := h[i+j], n[j]
			if 'A' <= hc && hc <= 'Z' {
				hc += 'a' - 'A'
			}
			if 'A' <= nc && nc <= 'Z' {
				nc += 'a' - 'A'
			}
			if hc != nc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// UpdateSummary replaces id's stored summary snapshot without touching
// its embedding.
func (s *Store) UpdateSummary(ctx context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.meta[id]
	if !ok {
		return kerrors.NotFound(id)
	}
	e.Summary = summary
	s.meta[id] = e
	return nil
}

// UpdateTags replaces id's stored (casefolded) tag snapshot.
func (s *Store) UpdateTags(ctx context.Context, id string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.meta[id]
	if !ok {
		return kerrors.NotFound(id)
	}
	e.Tags = keepid.CasefoldTagsForIndex(tags)
	s.meta[id] = e
	return nil
}

// ResetEmbeddingDimension wipes the collection and resets the expected
// embedding dimension to d. Callers must enqueue a full reindex on the
// PendingQueue after calling this.
func (s *Store) ResetEmbeddingDimension(ctx context.Context, d int) error {
	if err := s.DeleteCollection(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = d
	return nil
}

// MigratedToCosine reports whether this store was converted from an
// older L2-metric index at open time.
func (s *Store) MigratedToCosine() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.migratedToCosine
}

// Dimension returns the store's configured embedding dimension, or 0
// if unset (no entries have been written yet).
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Count returns the number of live (non-orphaned) entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the graph and metadata to path (+".meta"), atomically
// via temp-file-then-rename, matching the teacher's HNSWStore.Save.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kerrors.IOErr("creating vector store directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return kerrors.IOErr("creating vector index file", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return kerrors.IOErr("exporting vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return kerrors.IOErr("closing vector index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kerrors.IOErr("renaming vector index file", err)
	}

	metaPath := path + ".meta"
	metaTmp := metaPath + ".tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return kerrors.IOErr("creating vector metadata file", err)
	}
	p := persisted{IDMap: s.idMap, Meta: s.meta, Next: s.next, Dimension: s.dimension, Metric: s.metric, MigratedToCosine: s.migratedToCosine}
	if err := gob.NewEncoder(mf).Encode(p); err != nil {
		mf.Close()
		os.Remove(metaTmp)
		return kerrors.IOErr("encoding vector metadata", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(metaTmp)
		return kerrors.IOErr("closing vector metadata file", err)
	}
	return os.Rename(metaTmp, metaPath)
}

// Load restores the graph and metadata previously written by Save. If
// the stored metric differs from "cos", migratedToCosine is set so
// callers can enqueue a reindex.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaPath := path + ".meta"
	mf, err := os.Open(metaPath)
	if err != nil {
		return kerrors.IOErr("opening vector metadata file", err)
	}
	defer mf.Close()

	var p persisted
	if err := gob.NewDecoder(mf).Decode(&p); err != nil {
		return kerrors.IOErr("decoding vector metadata", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return kerrors.IOErr("opening vector index file", err)
	}
	defer f.Close()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return kerrors.IOErr("importing vector graph", err)
	}

	s.graph = graph
	s.idMap = p.IDMap
	if s.idMap == nil {
		s.idMap = map[string]uint64{}
	}
	s.meta = p.Meta
	if s.meta == nil {
		s.meta = map[string]Entry{}
	}
	s.next = p.Next
	s.dimension = p.Dimension
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	if p.Metric != "" && p.Metric != "cos" {
		s.migratedToCosine = true
	}
	return nil
}

// Close releases in-memory resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}
