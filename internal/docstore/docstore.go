// Package docstore implements the durable relational store of
// documents, archived versions, parts, edges, and full-text index,
// backed by SQLite FTS5 via the pure-Go modernc.org/sqlite driver.
// It is keep's canonical store: the VectorStore mirrors a subset of
// this data for approximate nearest-neighbor search.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/model"
)

// Store is a SQLite-backed DocumentStore: documents, versions, parts,
// edges, a backfill bookkeeping table, and an FTS5 index over heads,
// parts, and versions together.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var defaultStopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "were", "will", "with",
	} {
		defaultStopwords[w] = struct{}{}
	}
}

// validateIntegrity checks an existing SQLite file before opening it
// for writes, following the corruption-detection pattern of checking
// PRAGMA integrity_check prior to trusting a store.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open creates or opens the document store at path ("" for an
// in-memory store, used by tests). WAL journaling, a 5s busy timeout,
// and NORMAL synchronous mode are configured for concurrent
// multi-process access.
func Open(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("docstore_corrupted", "path", path, "error", err.Error())
			return nil, kerrors.Corruption(fmt.Sprintf("document store at %s failed integrity check", path), err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kerrors.IOErr("opening document store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, kerrors.IOErr("setting pragma "+pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		summary TEXT NOT NULL,
		tags TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		content_hash_full TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		accessed_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS versions (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		summary TEXT NOT NULL,
		tags TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		archived_at TEXT NOT NULL,
		PRIMARY KEY (collection, id, version)
	);

	CREATE TABLE IF NOT EXISTS parts (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		part_num INTEGER NOT NULL,
		summary TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT NOT NULL,
		PRIMARY KEY (collection, id, part_num)
	);

	CREATE TABLE IF NOT EXISTS edges (
		collection TEXT NOT NULL,
		source_id TEXT NOT NULL,
		predicate TEXT NOT NULL,
		target_id TEXT NOT NULL,
		inverse_verb TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (collection, source_id, predicate)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(collection, target_id);

	CREATE TABLE IF NOT EXISTS backfills (
		predicate TEXT NOT NULL,
		inverse TEXT NOT NULL,
		PRIMARY KEY (predicate)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_index USING fts5(
		collection UNINDEXED,
		doc_id UNINDEXED,
		kind UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database, checkpointing WAL first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	s.db = nil
	return err
}

func marshalTags(tags map[string]string) string {
	if tags == nil {
		tags = map[string]string{}
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

func unmarshalTags(data string) map[string]string {
	tags := map[string]string{}
	if data == "" {
		return tags
	}
	_ = json.Unmarshal([]byte(data), &tags)
	return tags
}

// Upsert creates or updates the head for (collection, id). If an
// existing row has the same content hash and identical non-system
// tags, it is returned unchanged with contentChanged=false. Otherwise
// the previous head (if any) is archived as the next version and the
// new head is written; contentChanged is true iff a version was
// archived.
func (s *Store) Upsert(ctx context.Context, collection, id, summary string, tags map[string]string, contentHash, contentHashFull, createdAt string) (*model.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, kerrors.IOErr("beginning upsert transaction", err)
	}
	defer tx.Rollback()

	existing, err := s.getTx(tx, collection, id)
	if err != nil {
		return nil, false, err
	}

	now := model.UTCNow()
	merged := map[string]string{}
	for k, v := range tags {
		merged[k] = v
	}

	if existing != nil && existing.ContentHash == contentHash && keepid.TagsEqual(existing.Tags, merged) {
		return existing, false, tx.Commit()
	}

	created := now
	if existing != nil {
		created = existing.CreatedAt
	}
	if createdAt != "" {
		created = createdAt
	}

	contentChanged := false
	if existing != nil && existing.ContentHash != contentHash {
		contentChanged = true
		nextVersion, err := s.maxVersionTx(tx, collection, id)
		if err != nil {
			return nil, false, err
		}
		nextVersion++
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO versions(collection, id, version, summary, tags, content_hash, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			collection, id, nextVersion, existing.Summary, marshalTags(existing.Tags), existing.ContentHash, now); err != nil {
			return nil, false, kerrors.IOErr("archiving version", err)
		}
		if err := s.indexFTSTx(ctx, tx, collection, id, "version", existing.Summary); err != nil {
			return nil, false, err
		}
	}

	merged["_updated"] = now
	merged["_updated_date"] = now[:10]
	merged["_accessed"] = now
	merged["_accessed_date"] = now[:10]
	merged["_created"] = created

	doc := &model.Document{
		Collection:      collection,
		ID:              id,
		Summary:         summary,
		Tags:            merged,
		ContentHash:     contentHash,
		ContentHashFull: contentHashFull,
		CreatedAt:       created,
		UpdatedAt:       now,
		AccessedAt:      now,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(collection, id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary=excluded.summary, tags=excluded.tags,
			content_hash=excluded.content_hash, content_hash_full=excluded.content_hash_full,
			created_at=excluded.created_at, updated_at=excluded.updated_at, accessed_at=excluded.accessed_at`,
		collection, id, summary, marshalTags(merged), contentHash, contentHashFull, created, now, now); err != nil {
		return nil, false, kerrors.IOErr("upserting document head", err)
	}

	if err := s.indexFTSTx(ctx, tx, collection, id, "head", summary); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, kerrors.IOErr("committing upsert", err)
	}
	return doc, contentChanged, nil
}

func (s *Store) indexFTSTx(ctx context.Context, tx *sql.Tx, collection, id, kind, content string) error {
	if kind == "head" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_index WHERE collection=? AND doc_id=? AND kind='head'`, collection, id); err != nil {
			return kerrors.IOErr("clearing fts head row", err)
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO fts_index(collection, doc_id, kind, content) VALUES (?, ?, ?, ?)`, collection, id, kind, content)
	if err != nil {
		return kerrors.IOErr("indexing fts content", err)
	}
	return nil
}

func rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed string) *model.Document {
	return &model.Document{
		Collection:      collection,
		ID:              id,
		Summary:         summary,
		Tags:            unmarshalTags(tagsJSON),
		ContentHash:     hash,
		ContentHashFull: hashFull,
		CreatedAt:       created,
		UpdatedAt:       updated,
		AccessedAt:      accessed,
	}
}

func (s *Store) getTx(tx *sql.Tx, collection, id string) (*model.Document, error) {
	var summary, tagsJSON, hash, hashFull, created, updated, accessed string
	err := tx.QueryRow(`SELECT summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? AND id=?`, collection, id).
		Scan(&summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IOErr("reading document", err)
	}
	return rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed), nil
}

// Get returns the head document for (collection, id), or nil if absent.
func (s *Store) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summary, tagsJSON, hash, hashFull, created, updated, accessed string
	err := s.db.QueryRowContext(ctx, `SELECT summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? AND id=?`, collection, id).
		Scan(&summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IOErr("reading document", err)
	}
	return rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed), nil
}

// GetMany returns the head documents for ids that exist, in no
// particular order.
func (s *Store) GetMany(ctx context.Context, collection string, ids []string) ([]*model.Document, error) {
	out := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Exists reports whether a head document exists for (collection, id).
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	doc, err := s.Get(ctx, collection, id)
	return doc != nil, err
}

// ListIDs returns every head id in collection.
func (s *Store) ListIDs(ctx context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE collection=? ORDER BY id`, collection)
	if err != nil {
		return nil, kerrors.IOErr("listing ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrderBy selects the sort column for ListRecent.
type OrderBy string

const (
	OrderByUpdated  OrderBy = "updated_at"
	OrderByAccessed OrderBy = "accessed_at"
)

// ListRecent returns the most recently updated/accessed documents,
// newest first.
func (s *Store) ListRecent(ctx context.Context, collection string, orderBy OrderBy, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := string(OrderByUpdated)
	if orderBy == OrderByAccessed {
		col = string(OrderByAccessed)
	}
	query := fmt.Sprintf(`SELECT id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? ORDER BY %s DESC LIMIT ?`, col)
	rows, err := s.db.QueryContext(ctx, query, collection, limit)
	if err != nil {
		return nil, kerrors.IOErr("listing recent documents", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var id, summary, tagsJSON, hash, hashFull, created, updated, accessed string
		if err := rows.Scan(&id, &summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed); err != nil {
			return nil, err
		}
		docs = append(docs, rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed))
	}
	return docs, rows.Err()
}

// Count returns the number of head documents in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection=?`, collection).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("counting documents", err)
	}
	return n, nil
}

// CountVersions returns the total number of archived versions for id.
func (s *Store) CountVersions(ctx context.Context, collection, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE collection=? AND id=?`, collection, id).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("counting versions", err)
	}
	return n, nil
}

func (s *Store) maxVersionTx(tx *sql.Tx, collection, id string) (int, error) {
	var n sql.NullInt64
	err := tx.QueryRow(`SELECT MAX(version) FROM versions WHERE collection=? AND id=?`, collection, id).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("reading max version", err)
	}
	return int(n.Int64), nil
}

// MaxVersion returns the highest archived version number for id, or 0.
func (s *Store) MaxVersion(ctx context.Context, collection, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE collection=? AND id=?`, collection, id).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("reading max version", err)
	}
	return int(n.Int64), nil
}

// GetVersion returns the archived version at offset (1 = most recent).
func (s *Store) GetVersion(ctx context.Context, collection, id string, offset int) (*model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 1 {
		return nil, kerrors.Invalid("version offset must be >= 1", nil)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version, summary, tags, content_hash, archived_at
		FROM versions WHERE collection=? AND id=? ORDER BY version DESC LIMIT 1 OFFSET ?`,
		collection, id, offset-1)
	if err != nil {
		return nil, kerrors.IOErr("reading version", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	var number int
	var summary, tagsJSON, hash, archivedAt string
	if err := rows.Scan(&number, &summary, &tagsJSON, &hash, &archivedAt); err != nil {
		return nil, err
	}
	return &model.Version{
		Collection: collection, ID: id, Number: number, Summary: summary,
		Tags: unmarshalTags(tagsJSON), ContentHash: hash, ArchivedAt: archivedAt,
	}, nil
}

// ListVersions returns all archived versions of id, newest first.
func (s *Store) ListVersions(ctx context.Context, collection, id string) ([]*model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT version, summary, tags, content_hash, archived_at
		FROM versions WHERE collection=? AND id=? ORDER BY version DESC`, collection, id)
	if err != nil {
		return nil, kerrors.IOErr("listing versions", err)
	}
	defer rows.Close()
	var out []*model.Version
	for rows.Next() {
		var number int
		var summary, tagsJSON, hash, archivedAt string
		if err := rows.Scan(&number, &summary, &tagsJSON, &hash, &archivedAt); err != nil {
			return nil, err
		}
		out = append(out, &model.Version{
			Collection: collection, ID: id, Number: number, Summary: summary,
			Tags: unmarshalTags(tagsJSON), ContentHash: hash, ArchivedAt: archivedAt,
		})
	}
	return out, rows.Err()
}

// CountVersionsFrom returns the number of archived versions with
// version >= fromVersion.
func (s *Store) CountVersionsFrom(ctx context.Context, collection, id string, fromVersion int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE collection=? AND id=? AND version >= ?`,
		collection, id, fromVersion).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("counting versions from", err)
	}
	return n, nil
}

// RestoreLatestVersion promotes the most recent archived version to
// head, deleting the archived row. Returns nil if there is no history.
func (s *Store) RestoreLatestVersion(ctx context.Context, collection, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kerrors.IOErr("beginning revert transaction", err)
	}
	defer tx.Rollback()

	var version int
	var summary, tagsJSON, hash, archivedAt string
	err = tx.QueryRow(`SELECT version, summary, tags, content_hash, archived_at
		FROM versions WHERE collection=? AND id=? ORDER BY version DESC LIMIT 1`, collection, id).
		Scan(&version, &summary, &tagsJSON, &hash, &archivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IOErr("reading latest version", err)
	}

	now := model.UTCNow()
	tags := unmarshalTags(tagsJSON)
	tags["_updated"] = now
	tags["_updated_date"] = now[:10]

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(collection, id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary=excluded.summary, tags=excluded.tags, content_hash=excluded.content_hash,
			content_hash_full=excluded.content_hash_full, updated_at=excluded.updated_at, accessed_at=excluded.accessed_at`,
		collection, id, summary, marshalTags(tags), hash, hash, now, now, now); err != nil {
		return nil, kerrors.IOErr("restoring version to head", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection=? AND id=? AND version=?`, collection, id, version); err != nil {
		return nil, kerrors.IOErr("deleting restored version row", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, kerrors.IOErr("committing revert", err)
	}
	return rowToDocument(collection, id, summary, marshalTags(tags), hash, hash, tags["_created"], now, now), nil
}

// ExtractVersions atomically moves the source's archived versions and
// its current head, each only if it matches tagFilter (nil = all), from
// sourceID to targetID. If onlyCurrent,
// only the source's current head is considered (as a synthetic
// version). Returns the moved versions (oldest first), the source's
// new head after extraction (nil if the source is now empty), and the
// first version number assigned in the target.
func (s *Store) ExtractVersions(ctx context.Context, collection, sourceID, targetID string, tagFilter map[string]string, onlyCurrent bool) ([]model.VersionInfo, *model.Document, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, 0, kerrors.IOErr("beginning move transaction", err)
	}
	defer tx.Rollback()

	type candidate struct {
		version     int
		summary     string
		tags        map[string]string
		contentHash string
		archivedAt  string
		isHead      bool
	}
	var candidates []candidate

	if !onlyCurrent {
		rows, err := tx.Query(`SELECT version, summary, tags, content_hash, archived_at
			FROM versions WHERE collection=? AND id=? ORDER BY version ASC`, collection, sourceID)
		if err != nil {
			return nil, nil, 0, kerrors.IOErr("reading source versions", err)
		}
		for rows.Next() {
			var c candidate
			var tagsJSON string
			if err := rows.Scan(&c.version, &c.summary, &tagsJSON, &c.contentHash, &c.archivedAt); err != nil {
				rows.Close()
				return nil, nil, 0, err
			}
			c.tags = unmarshalTags(tagsJSON)
			if matchesTagFilter(c.tags, tagFilter) {
				candidates = append(candidates, c)
			}
		}
		rows.Close()
	}

	head, err := s.getTx(tx, collection, sourceID)
	if err != nil {
		return nil, nil, 0, err
	}
	if head != nil && matchesTagFilter(head.Tags, tagFilter) {
		candidates = append(candidates, candidate{
			summary: head.Summary, tags: head.Tags, contentHash: head.ContentHash,
			archivedAt: head.UpdatedAt, isHead: true,
		})
	}

	if len(candidates) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, nil, 0, err
		}
		return nil, head, 0, nil
	}

	existingTarget, err := s.getTx(tx, collection, targetID)
	if err != nil {
		return nil, nil, 0, err
	}
	baseVersion := 1
	if existingTarget != nil {
		v, err := s.maxVersionTx(tx, collection, targetID)
		if err != nil {
			return nil, nil, 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO versions(collection, id, version, summary, tags, content_hash, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			collection, targetID, v+1, existingTarget.Summary, marshalTags(existingTarget.Tags), existingTarget.ContentHash, model.UTCNow()); err != nil {
			return nil, nil, 0, kerrors.IOErr("archiving existing target head", err)
		}
		baseVersion = v + 2
	}

	moved := make([]model.VersionInfo, 0, len(candidates))
	seq := baseVersion
	var newTargetHead candidate
	for i, c := range candidates {
		newTargetHead = c
		if i == len(candidates)-1 {
			break
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO versions(collection, id, version, summary, tags, content_hash, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			collection, targetID, seq, c.summary, marshalTags(c.tags), c.contentHash, c.archivedAt); err != nil {
			return nil, nil, 0, kerrors.IOErr("archiving moved version", err)
		}
		moved = append(moved, model.VersionInfo{Number: seq, Summary: c.summary, Tags: c.tags, ContentHash: c.contentHash, ArchivedAt: c.archivedAt})
		seq++
	}

	now := model.UTCNow()
	newTargetHead.tags["_updated"] = now
	newTargetHead.tags["_updated_date"] = now[:10]
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(collection, id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary=excluded.summary, tags=excluded.tags, content_hash=excluded.content_hash,
			content_hash_full=excluded.content_hash_full, updated_at=excluded.updated_at, accessed_at=excluded.accessed_at`,
		collection, targetID, newTargetHead.summary, marshalTags(newTargetHead.tags), newTargetHead.contentHash, newTargetHead.contentHash, now, now, now); err != nil {
		return nil, nil, 0, kerrors.IOErr("writing extracted target head", err)
	}
	moved = append(moved, model.VersionInfo{Number: seq, Summary: newTargetHead.summary, Tags: newTargetHead.tags, ContentHash: newTargetHead.contentHash, ArchivedAt: now})

	var newSourceHead *model.Document
	for _, c := range candidates {
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection=? AND id=? AND version=?`, collection, sourceID, c.version); err != nil && !c.isHead {
			return nil, nil, 0, kerrors.IOErr("removing extracted source version", err)
		}
	}
	anyHeadMoved := false
	for _, c := range candidates {
		if c.isHead {
			anyHeadMoved = true
		}
	}
	if anyHeadMoved {
		if restored, err := s.restoreLatestVersionTx(ctx, tx, collection, sourceID); err != nil {
			return nil, nil, 0, err
		} else if restored != nil {
			newSourceHead = restored
		} else {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, sourceID); err != nil {
				return nil, nil, 0, err
			}
		}
	} else {
		newSourceHead = head
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, 0, kerrors.IOErr("committing move", err)
	}
	return moved, newSourceHead, baseVersion, nil
}

func (s *Store) restoreLatestVersionTx(ctx context.Context, tx *sql.Tx, collection, id string) (*model.Document, error) {
	var version int
	var summary, tagsJSON, hash, archivedAt string
	err := tx.QueryRow(`SELECT version, summary, tags, content_hash, archived_at
		FROM versions WHERE collection=? AND id=? ORDER BY version DESC LIMIT 1`, collection, id).
		Scan(&version, &summary, &tagsJSON, &hash, &archivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IOErr("reading latest version for restore", err)
	}
	now := model.UTCNow()
	tags := unmarshalTags(tagsJSON)
	tags["_updated"] = now
	tags["_updated_date"] = now[:10]
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(collection, id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary=excluded.summary, tags=excluded.tags, content_hash=excluded.content_hash,
			content_hash_full=excluded.content_hash_full, updated_at=excluded.updated_at, accessed_at=excluded.accessed_at`,
		collection, id, summary, marshalTags(tags), hash, hash, now, now, now); err != nil {
		return nil, kerrors.IOErr("restoring version to head", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection=? AND id=? AND version=?`, collection, id, version); err != nil {
		return nil, err
	}
	return rowToDocument(collection, id, summary, marshalTags(tags), hash, hash, tags["_created"], now, now), nil
}

func matchesTagFilter(tags, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Delete removes a head document and, if deleteVersions, its archived
// versions and parts.
func (s *Store) Delete(ctx context.Context, collection, id string, deleteVersions bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.IOErr("beginning delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id); err != nil {
		return kerrors.IOErr("deleting document", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_index WHERE collection=? AND doc_id=? AND kind='head'`, collection, id); err != nil {
		return kerrors.IOErr("deleting fts head entry", err)
	}
	if deleteVersions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection=? AND id=?`, collection, id); err != nil {
			return kerrors.IOErr("deleting versions", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM parts WHERE collection=? AND id=?`, collection, id); err != nil {
			return kerrors.IOErr("deleting parts", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_index WHERE collection=? AND doc_id=?`, collection, id); err != nil {
			return kerrors.IOErr("deleting fts entries", err)
		}
	}
	if err := s.deleteEdgesForSourceTx(ctx, tx, collection, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteVersion removes one archived version by its version number,
// leaving the head and every other version untouched. Reports whether
// a row was actually deleted.
func (s *Store) DeleteVersion(ctx context.Context, collection, id string, number int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE collection=? AND id=? AND version=?`,
		collection, id, number)
	if err != nil {
		return false, kerrors.IOErr("deleting version", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, kerrors.IOErr("reading rows affected", err)
	}
	if n == 0 {
		return false, nil
	}
	return true, nil
}

// DeleteParts removes all parts of id.
func (s *Store) DeleteParts(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE collection=? AND id=?`, collection, id); err != nil {
		return kerrors.IOErr("deleting parts", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fts_index WHERE collection=? AND doc_id=? AND kind='part'`, collection, id); err != nil {
		return kerrors.IOErr("deleting fts part entries", err)
	}
	return nil
}

// DeleteCollectionAll removes every row belonging to collection.
func (s *Store) DeleteCollectionAll(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.IOErr("beginning wipe transaction", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"documents", "versions", "parts", "edges", "fts_index"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection=?`, table), collection); err != nil {
			return kerrors.IOErr("wiping "+table, err)
		}
	}
	return tx.Commit()
}

// PutDocumentRaw writes a head row verbatim (insert or replace), with no
// diffing or versioning, for bulk import of a previously exported
// document. The FTS head entry is refreshed from summary.
func (s *Store) PutDocumentRaw(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.IOErr("beginning import transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(collection, id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Collection, doc.ID, doc.Summary, marshalTags(doc.Tags),
		doc.ContentHash, doc.ContentHashFull, doc.CreatedAt, doc.UpdatedAt, doc.AccessedAt)
	if err != nil {
		return kerrors.IOErr("writing imported document", err)
	}
	if err := s.indexFTSTx(ctx, tx, doc.Collection, doc.ID, "head", doc.Summary); err != nil {
		return err
	}
	return tx.Commit()
}

// PutVersionRaw writes one archived version row verbatim, for bulk
// import of a previously exported document's history.
func (s *Store) PutVersionRaw(ctx context.Context, collection, id string, v model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO versions (collection, id, version, summary, tags, content_hash, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collection, id, v.Number, v.Summary, marshalTags(v.Tags), v.ContentHash, v.ArchivedAt)
	if err != nil {
		return kerrors.IOErr("writing imported version", err)
	}
	return nil
}

// UpsertParts replaces all parts of id atomically.
func (s *Store) UpsertParts(ctx context.Context, collection, id string, parts []model.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.IOErr("beginning parts transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM parts WHERE collection=? AND id=?`, collection, id); err != nil {
		return kerrors.IOErr("clearing existing parts", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_index WHERE collection=? AND doc_id=? AND kind='part'`, collection, id); err != nil {
		return kerrors.IOErr("clearing fts part entries", err)
	}
	for _, p := range parts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parts(collection, id, part_num, summary, content, tags) VALUES (?, ?, ?, ?, ?, ?)`,
			collection, id, p.Number, p.Summary, p.Content, marshalTags(p.Tags)); err != nil {
			return kerrors.IOErr("inserting part", err)
		}
		if err := s.indexFTSTx(ctx, tx, collection, id, "part", p.Summary+"\n"+p.Content); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListParts returns all parts of id, ordered by part number.
func (s *Store) ListParts(ctx context.Context, collection, id string) ([]model.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT part_num, summary, content, tags FROM parts
		WHERE collection=? AND id=? ORDER BY part_num ASC`, collection, id)
	if err != nil {
		return nil, kerrors.IOErr("listing parts", err)
	}
	defer rows.Close()
	var out []model.Part
	for rows.Next() {
		var num int
		var summary, content, tagsJSON string
		if err := rows.Scan(&num, &summary, &content, &tagsJSON); err != nil {
			return nil, err
		}
		out = append(out, model.Part{Collection: collection, ID: id, Number: num, Summary: summary, Content: content, Tags: unmarshalTags(tagsJSON)})
	}
	return out, rows.Err()
}

// GetPart returns one part, or nil.
func (s *Store) GetPart(ctx context.Context, collection, id string, partNum int) (*model.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summary, content, tagsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT summary, content, tags FROM parts
		WHERE collection=? AND id=? AND part_num=?`, collection, id, partNum).Scan(&summary, &content, &tagsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.IOErr("reading part", err)
	}
	return &model.Part{Collection: collection, ID: id, Number: partNum, Summary: summary, Content: content, Tags: unmarshalTags(tagsJSON)}, nil
}

// PartCount returns the number of parts of id.
func (s *Store) PartCount(ctx context.Context, collection, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parts WHERE collection=? AND id=?`, collection, id).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("counting parts", err)
	}
	return n, nil
}

// UpdatePartTags edits a part's user tags (content is immutable).
func (s *Store) UpdatePartTags(ctx context.Context, collection, id string, partNum int, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE parts SET tags=? WHERE collection=? AND id=? AND part_num=?`,
		marshalTags(tags), collection, id, partNum)
	if err != nil {
		return kerrors.IOErr("updating part tags", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return kerrors.NotFound(fmt.Sprintf("%s@p%d", id, partNum))
	}
	return nil
}

// UpsertEdge writes (or overwrites) the single edge for (source, predicate).
func (s *Store) UpsertEdge(ctx context.Context, collection, sourceID, predicate, targetID, inverseVerb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges(collection, source_id, predicate, target_id, inverse_verb, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, source_id, predicate) DO UPDATE SET
			target_id=excluded.target_id, inverse_verb=excluded.inverse_verb, created_at=excluded.created_at`,
		collection, sourceID, predicate, targetID, inverseVerb, model.UTCNow())
	if err != nil {
		return kerrors.IOErr("upserting edge", err)
	}
	return nil
}

// GetInverseEdges returns edges whose target is target.
func (s *Store) GetInverseEdges(ctx context.Context, collection, target string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, predicate, inverse_verb, created_at
		FROM edges WHERE collection=? AND target_id=?`, collection, target)
	if err != nil {
		return nil, kerrors.IOErr("reading inverse edges", err)
	}
	defer rows.Close()
	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		e.Collection, e.TargetID = collection, target
		if err := rows.Scan(&e.SourceID, &e.Predicate, &e.InverseVerb, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOutboundEdges returns edges originating at source.
func (s *Store) GetOutboundEdges(ctx context.Context, collection, source string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT predicate, target_id, inverse_verb, created_at
		FROM edges WHERE collection=? AND source_id=?`, collection, source)
	if err != nil {
		return nil, kerrors.IOErr("reading outbound edges", err)
	}
	defer rows.Close()
	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		e.Collection, e.SourceID = collection, source
		if err := rows.Scan(&e.Predicate, &e.TargetID, &e.InverseVerb, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindEdgeTargets returns distinct edge target ids that match one of
// the given query tokens case-insensitively, grounding DeepSearch's
// synthetic entity-primary injection.
func (s *Store) FindEdgeTargets(ctx context.Context, collection string, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	args = append(args, collection)
	for i, t := range tokens {
		placeholders[i] = "?"
		args = append(args, strings.ToLower(t))
	}
	query := fmt.Sprintf(`SELECT DISTINCT target_id FROM edges WHERE collection=? AND lower(target_id) IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.IOErr("finding edge targets", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) deleteEdgesForSourceTx(ctx context.Context, tx *sql.Tx, collection, source string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE collection=? AND source_id=?`, collection, source)
	if err != nil {
		return kerrors.IOErr("deleting edges for source", err)
	}
	return nil
}

// DeleteEdgesForSource removes all edges originating at source.
func (s *Store) DeleteEdgesForSource(ctx context.Context, collection, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE collection=? AND source_id=?`, collection, source)
	if err != nil {
		return kerrors.IOErr("deleting edges for source", err)
	}
	return nil
}

// DeleteEdgesForTarget removes all edges pointing at target.
func (s *Store) DeleteEdgesForTarget(ctx context.Context, collection, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE collection=? AND target_id=?`, collection, target)
	if err != nil {
		return kerrors.IOErr("deleting edges for target", err)
	}
	return nil
}

// DeleteEdgesForPredicate removes the edge at (source, predicate), if any.
func (s *Store) DeleteEdgesForPredicate(ctx context.Context, collection, source, predicate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE collection=? AND source_id=? AND predicate=?`, collection, source, predicate)
	if err != nil {
		return kerrors.IOErr("deleting edge", err)
	}
	return nil
}

// HasEdges reports whether source has any outgoing edges.
func (s *Store) HasEdges(ctx context.Context, collection, source string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE collection=? AND source_id=?`, collection, source).Scan(&n)
	if err != nil {
		return false, kerrors.IOErr("checking edges", err)
	}
	return n > 0, nil
}

// CollectionHasEdges reports whether any edge exists for collection,
// used to pick DeepSearch's edge-following vs tag-following branch.
func (s *Store) CollectionHasEdges(ctx context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE collection=? LIMIT 1`, collection).Scan(&n)
	if err != nil {
		return false, kerrors.IOErr("checking collection edges", err)
	}
	return n > 0, nil
}

// UpsertBackfill records that predicate's inverse relationship has been
// backfilled across existing documents.
func (s *Store) UpsertBackfill(ctx context.Context, predicate, inverse string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backfills(predicate, inverse) VALUES (?, ?)
		ON CONFLICT(predicate) DO UPDATE SET inverse=excluded.inverse`, predicate, inverse)
	if err != nil {
		return kerrors.IOErr("upserting backfill", err)
	}
	return nil
}

// BackfillExists reports whether predicate has a recorded backfill.
func (s *Store) BackfillExists(ctx context.Context, predicate string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backfills WHERE predicate=?`, predicate).Scan(&n)
	if err != nil {
		return false, kerrors.IOErr("checking backfill", err)
	}
	return n > 0, nil
}

// GetBackfillStatus returns the recorded inverse for predicate, if any.
func (s *Store) GetBackfillStatus(ctx context.Context, predicate string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var inverse string
	err := s.db.QueryRowContext(ctx, `SELECT inverse FROM backfills WHERE predicate=?`, predicate).Scan(&inverse)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, kerrors.IOErr("reading backfill status", err)
	}
	return inverse, true, nil
}

// DeleteBackfill removes the backfill record for predicate.
func (s *Store) DeleteBackfill(ctx context.Context, predicate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM backfills WHERE predicate=?`, predicate)
	if err != nil {
		return kerrors.IOErr("deleting backfill", err)
	}
	return nil
}

// GetStopwords returns the frozen stopword set. No package in this
// module calls it, so no search path filters query tokens with it.
func (s *Store) GetStopwords() map[string]struct{} {
	return defaultStopwords
}

// Touch bumps _accessed/_accessed_date for id after a successful read.
func (s *Store) Touch(ctx context.Context, collection, id string) error {
	return s.TouchMany(ctx, collection, []string{id})
}

// TouchMany bumps _accessed/_accessed_date for several ids at once.
func (s *Store) TouchMany(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := model.UTCNow()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.IOErr("beginning touch transaction", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		doc, err := s.getTx(tx, collection, id)
		if err != nil || doc == nil {
			continue
		}
		doc.Tags["_accessed"] = now
		doc.Tags["_accessed_date"] = now[:10]
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET tags=?, accessed_at=? WHERE collection=? AND id=?`,
			marshalTags(doc.Tags), now, collection, id); err != nil {
			return kerrors.IOErr("touching document", err)
		}
	}
	return tx.Commit()
}

// QueryByTag returns head documents whose tags contain key=value
// exactly, grounding DeepSearch's tag-following co-tag candidate scan.
func (s *Store) QueryByTag(ctx context.Context, collection, key, value string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? AND json_extract(tags, '$."` + jsonEscape(key) + `"') = ?`
	rows, err := s.db.QueryContext(ctx, query, collection, value)
	if err != nil {
		return nil, kerrors.IOErr("querying by tag", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var id, summary, tagsJSON, hash, hashFull, created, updated, accessed string
		if err := rows.Scan(&id, &summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed); err != nil {
			return nil, err
		}
		docs = append(docs, rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed))
	}
	return docs, rows.Err()
}

// QueryByTags returns head documents matching every key=value pair in
// tags (AND), up to limit, grounding MetaResolver's expanded-query
// scan (spec's ListItems(tags=query, limit)).
func (s *Store) QueryByTags(ctx context.Context, collection string, tags map[string]string, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=?`
	args := []any{collection}
	for key, value := range tags {
		query += ` AND json_extract(tags, '$."` + jsonEscape(key) + `"') = ?`
		args = append(args, value)
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.IOErr("querying by tags", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var id, summary, tagsJSON, hash, hashFull, created, updated, accessed string
		if err := rows.Scan(&id, &summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed); err != nil {
			return nil, err
		}
		docs = append(docs, rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed))
	}
	return docs, rows.Err()
}

// QueryByTagKey returns head documents carrying tag key, optionally
// restricted to an _updated_date range [sinceDate, untilDate].
func (s *Store) QueryByTagKey(ctx context.Context, collection, key, sinceDate, untilDate string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? AND json_extract(tags, '$."` + jsonEscape(key) + `"') IS NOT NULL`
	args := []any{collection}
	if sinceDate != "" {
		query += ` AND json_extract(tags, '$."_updated_date"') >= ?`
		args = append(args, sinceDate)
	}
	if untilDate != "" {
		query += ` AND json_extract(tags, '$."_updated_date"') <= ?`
		args = append(args, untilDate)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.IOErr("querying by tag key", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var id, summary, tagsJSON, hash, hashFull, created, updated, accessed string
		if err := rows.Scan(&id, &summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed); err != nil {
			return nil, err
		}
		docs = append(docs, rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed))
	}
	return docs, rows.Err()
}

func jsonEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// ListDistinctTagKeys returns every distinct user tag key in collection.
func (s *Store) ListDistinctTagKeys(ctx context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT tags FROM documents WHERE collection=?`, collection)
	if err != nil {
		return nil, kerrors.IOErr("reading tags for key listing", err)
	}
	defer rows.Close()
	seen := map[string]struct{}{}
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, err
		}
		for k := range unmarshalTags(tagsJSON) {
			if !keepid.IsSystemTag(k) {
				seen[k] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListDistinctTagValues returns every distinct value seen for key.
func (s *Store) ListDistinctTagValues(ctx context.Context, collection, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT tags FROM documents WHERE collection=?`, collection)
	if err != nil {
		return nil, kerrors.IOErr("reading tags for value listing", err)
	}
	defer rows.Close()
	seen := map[string]struct{}{}
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, err
		}
		if v, ok := unmarshalTags(tagsJSON)[key]; ok {
			seen[v] = struct{}{}
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	return values, rows.Err()
}

// QueryByIDPrefix returns head documents whose id starts with prefix
// (treated as a literal string, not a glob).
func (s *Store) QueryByIDPrefix(ctx context.Context, collection, prefix string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	escaped := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT id, summary, tags, content_hash, content_hash_full, created_at, updated_at, accessed_at
		FROM documents WHERE collection=? AND id LIKE ? ESCAPE '\'`, collection, escaped+"%")
	if err != nil {
		return nil, kerrors.IOErr("querying by id prefix", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var id, summary, tagsJSON, hash, hashFull, created, updated, accessed string
		if err := rows.Scan(&id, &summary, &tagsJSON, &hash, &hashFull, &created, &updated, &accessed); err != nil {
			return nil, err
		}
		docs = append(docs, rowToDocument(collection, id, summary, tagsJSON, hash, hashFull, created, updated, accessed))
	}
	return docs, rows.Err()
}

// FTSHit is one full-text match: a doc_id, its kind (head/part/version),
// and a rank (0 = best).
type FTSHit struct {
	DocID string
	Kind  string
	Rank  int
}

// BuildFTSQuery tokenizes q, strips quotes/FTS operators, and
// OR-combines the surviving tokens. Returns "" if nothing usable
// remains (e.g. q is empty or pure punctuation).
func BuildFTSQuery(q string) string {
	tokens := ftsTokenRE.FindAllString(q, -1)
	var kept []string
	for _, t := range tokens {
		t = strings.Trim(t, `"'`)
		if t == "" {
			continue
		}
		kept = append(kept, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, " OR ")
}

var ftsTokenRE = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// QueryFTS scores heads, parts, and versions together for q, returning
// up to limit hits ordered best-first. It takes no tag filter: every
// matching row in collection is a candidate.
func (s *Store) QueryFTS(ctx context.Context, collection, q string, limit int) ([]FTSHit, error) {
	query := BuildFTSQuery(q)
	if query == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, kind, bm25(fts_index) as score FROM fts_index
		WHERE collection=? AND fts_index MATCH ? ORDER BY score LIMIT ?`,
		collection, query, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax") {
			return nil, nil
		}
		return nil, kerrors.IOErr("querying fts", err)
	}
	defer rows.Close()
	var hits []FTSHit
	rank := 0
	for rows.Next() {
		var docID, kind string
		var score float64
		if err := rows.Scan(&docID, &kind, &score); err != nil {
			return nil, err
		}
		hits = append(hits, FTSHit{DocID: docID, Kind: kind, Rank: rank})
		rank++
	}
	return hits, rows.Err()
}

// QueryFTSScoped restricts QueryFTS's result set to allowedIDs
// (used by deep-search to limit primary hops).
func (s *Store) QueryFTSScoped(ctx context.Context, collection, q string, allowedIDs []string, limit int) ([]FTSHit, error) {
	all, err := s.QueryFTS(ctx, collection, q, limit*4)
	if err != nil || all == nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	var out []FTSHit
	for _, h := range all {
		if _, ok := allowed[h.DocID]; ok {
			out = append(out, h)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
