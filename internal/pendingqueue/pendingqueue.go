// Package pendingqueue implements keep's durable work queue for
// deferred background tasks (summarization, analysis): fast writes
// enqueue a placeholder and the daemon drains the queue serially so
// heavy embedding/LLM work never blocks an interactive command.
package pendingqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/model"
)

// Status is a queue row's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

const (
	// StaleClaimSeconds is how long a "processing" claim survives
	// before being considered abandoned by a crashed processor.
	StaleClaimSeconds = 600
	// RetryBackoffBase is the first retry delay in seconds.
	RetryBackoffBase = 30
	// RetryBackoffMax caps the exponential retry delay.
	RetryBackoffMax = 3600
	// MaxSummaryAttempts is the default dead-letter threshold.
	MaxSummaryAttempts = 5
)

// Item is one queued unit of work.
type Item struct {
	ID         string
	Collection string
	TaskType   string
	Content    string
	QueuedAt   string
	Attempts   int
	Metadata   map[string]any
}

// Queue is a SQLite-backed durable work queue.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path ("" for in-memory).
func Open(path string) (*Queue, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kerrors.IOErr("opening pending queue", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, kerrors.IOErr("setting pragma", err)
		}
	}

	q := &Queue{db: db}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_summaries (
			id TEXT NOT NULL,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			queued_at TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			task_type TEXT DEFAULT 'summarize',
			metadata TEXT DEFAULT '{}',
			status TEXT DEFAULT 'pending',
			claimed_by TEXT,
			claimed_at TEXT,
			last_error TEXT,
			retry_after TEXT,
			PRIMARY KEY (id, collection, task_type)
		);
		CREATE INDEX IF NOT EXISTS idx_queued_at ON pending_summaries(queued_at);
		CREATE INDEX IF NOT EXISTS idx_status ON pending_summaries(status);
	`)
	if err != nil {
		return kerrors.IOErr("creating pending queue schema", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue adds (or replaces, resetting to pending) a work item keyed
// by (id, collection, taskType).
func (q *Queue) Enqueue(ctx context.Context, id, collection, content, taskType string, metadata map[string]any) error {
	if taskType == "" {
		taskType = "summarize"
	}
	metaJSON := "{}"
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return kerrors.Invalid("marshaling metadata", err)
		}
		metaJSON = string(data)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_summaries
		(id, collection, content, queued_at, attempts, task_type, metadata, status, claimed_by, claimed_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, 'pending', NULL, NULL)`,
		id, collection, content, model.UTCNow(), taskType, metaJSON)
	if err != nil {
		return kerrors.IOErr("enqueuing item", err)
	}
	return nil
}

// recoverStaleClaims resets "processing" rows whose claim is older
// than StaleClaimSeconds back to pending.
func (q *Queue) recoverStaleClaims(ctx context.Context, tx *sql.Tx, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_summaries
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE status = 'processing'
		  AND claimed_at IS NOT NULL
		  AND julianday(?) - julianday(claimed_at) > ? / 86400.0`,
		now, StaleClaimSeconds)
	if err != nil {
		return 0, kerrors.IOErr("recovering stale claims", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Dequeue atomically claims up to limit oldest pending items whose
// retry_after has elapsed, transitioning them to processing.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]Item, error) {
	now := model.UTCNow()
	pid := strconv.Itoa(os.Getpid())

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kerrors.IOErr("beginning dequeue transaction", err)
	}
	defer tx.Rollback()

	if _, err := q.recoverStaleClaims(ctx, tx, now); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, collection, content, queued_at, attempts, task_type, metadata
		FROM pending_summaries
		WHERE status = 'pending' AND (retry_after IS NULL OR retry_after <= ?)
		ORDER BY queued_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, kerrors.IOErr("selecting pending items", err)
	}
	var items []Item
	for rows.Next() {
		var it Item
		var metaJSON string
		if err := rows.Scan(&it.ID, &it.Collection, &it.Content, &it.QueuedAt, &it.Attempts, &it.TaskType, &metaJSON); err != nil {
			rows.Close()
			return nil, err
		}
		it.Metadata = map[string]any{}
		_ = json.Unmarshal([]byte(metaJSON), &it.Metadata)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_summaries
			SET status = 'processing', claimed_by = ?, claimed_at = ?, attempts = attempts + 1
			WHERE id = ? AND collection = ? AND task_type = ?`,
			pid, now, it.ID, it.Collection, it.TaskType); err != nil {
			return nil, kerrors.IOErr("claiming item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, kerrors.IOErr("committing dequeue", err)
	}
	for i := range items {
		items[i].Attempts++
	}
	return items, nil
}

// Complete removes an item after successful processing.
func (q *Queue) Complete(ctx context.Context, id, collection, taskType string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM pending_summaries WHERE id=? AND collection=? AND task_type=?`, id, collection, taskType)
	if err != nil {
		return kerrors.IOErr("completing item", err)
	}
	return nil
}

// Fail releases a claimed item back to pending with exponential
// backoff: min(RetryBackoffBase * 2^(attempts-1), RetryBackoffMax).
func (q *Queue) Fail(ctx context.Context, id, collection, taskType, errMsg string) error {
	var attempts int
	err := q.db.QueryRowContext(ctx, `SELECT attempts FROM pending_summaries WHERE id=? AND collection=? AND task_type=?`,
		id, collection, taskType).Scan(&attempts)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return kerrors.IOErr("reading attempts before fail", err)
	}

	delay := RetryBackoffBase * (1 << uint(attempts-1))
	if delay > RetryBackoffMax || attempts > 20 {
		delay = RetryBackoffMax
	}
	retryAt := time.Now().UTC().Add(time.Duration(delay) * time.Second).Format("2006-01-02T15:04:05")

	_, err = q.db.ExecContext(ctx, `
		UPDATE pending_summaries
		SET status='pending', claimed_by=NULL, claimed_at=NULL, last_error=?, retry_after=?
		WHERE id=? AND collection=? AND task_type=?`,
		errMsg, retryAt, id, collection, taskType)
	if err != nil {
		return kerrors.IOErr("failing item", err)
	}
	return nil
}

// Abandon moves an item to failed (dead letter), preserving its error.
func (q *Queue) Abandon(ctx context.Context, id, collection, taskType, errMsg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_summaries SET status='failed', claimed_by=NULL, claimed_at=NULL, last_error=?
		WHERE id=? AND collection=? AND task_type=?`, errMsg, id, collection, taskType)
	if err != nil {
		return kerrors.IOErr("abandoning item", err)
	}
	return nil
}

// FailOrAbandon fails the item for retry, or abandons it to the dead
// letter once maxAttempts is reached.
func (q *Queue) FailOrAbandon(ctx context.Context, it Item, maxAttempts int, errMsg string) error {
	if it.Attempts >= maxAttempts {
		return q.Abandon(ctx, it.ID, it.Collection, it.TaskType, errMsg)
	}
	return q.Fail(ctx, it.ID, it.Collection, it.TaskType, errMsg)
}

// Count returns the number of pending (not processing/failed) items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_summaries WHERE status='pending'`).Scan(&n)
	if err != nil {
		return 0, kerrors.IOErr("counting pending items", err)
	}
	return n, nil
}

// StatsByType groups pending+processing counts by task_type, busiest first.
func (q *Queue) StatsByType(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT task_type, COUNT(*) FROM pending_summaries
		WHERE status IN ('pending', 'processing') GROUP BY task_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, kerrors.IOErr("grouping stats by type", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var taskType string
		var count int
		if err := rows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		out[taskType] = count
	}
	return out, rows.Err()
}

// FailedItem is a dead-letter row.
type FailedItem struct {
	ID, Collection, TaskType, LastError, QueuedAt string
	Attempts                                      int
}

// ListFailed returns dead-lettered items, oldest first.
func (q *Queue) ListFailed(ctx context.Context) ([]FailedItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, collection, task_type, attempts, last_error, queued_at
		FROM pending_summaries WHERE status='failed' ORDER BY queued_at ASC`)
	if err != nil {
		return nil, kerrors.IOErr("listing failed items", err)
	}
	defer rows.Close()
	var out []FailedItem
	for rows.Next() {
		var f FailedItem
		var lastError sql.NullString
		if err := rows.Scan(&f.ID, &f.Collection, &f.TaskType, &f.Attempts, &lastError, &f.QueuedAt); err != nil {
			return nil, err
		}
		f.LastError = lastError.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// RetryFailed resets every failed item back to pending with a cleared
// attempt counter and backoff. Returns the number reset.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_summaries
		SET status='pending', attempts=0, claimed_by=NULL, claimed_at=NULL, last_error=NULL, retry_after=NULL
		WHERE status='failed'`)
	if err != nil {
		return 0, kerrors.IOErr("retrying failed items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetStatus returns the single row's status for id across any
// collection/task_type, or nil if no work is pending.
func (q *Queue) GetStatus(ctx context.Context, id string) (*Item, Status, error) {
	var it Item
	var status string
	var metaJSON string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, collection, task_type, queued_at, attempts, status, metadata
		FROM pending_summaries WHERE id=? LIMIT 1`, id).
		Scan(&it.ID, &it.Collection, &it.TaskType, &it.QueuedAt, &it.Attempts, &status, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", kerrors.IOErr("reading status", err)
	}
	it.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &it.Metadata)
	return &it, Status(status), nil
}

// Clear removes every item, returning the count cleared.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_summaries`).Scan(&n); err != nil {
		return 0, kerrors.IOErr("counting before clear", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_summaries`); err != nil {
		return 0, kerrors.IOErr("clearing queue", err)
	}
	return n, nil
}
