package pendingqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueue_AndDequeue(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "note1", items[0].ID)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestDequeue_ClaimIsExclusive(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))

	first, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestComplete_RemovesItem(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))
	_, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "note1", "default", "summarize"))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFail_SchedulesBackoffAndReturnsToPending(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))
	_, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "note1", "default", "summarize", "transient error"))

	item, status, err := q.GetStatus(ctx, "note1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, StatusPending, status)

	immediate, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, immediate, "retry_after should defer redelivery")
}

func TestFailOrAbandon_AbandonsAtMaxAttempts(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))

	for i := 0; i < MaxSummaryAttempts; i++ {
		items, err := q.Dequeue(ctx, 10)
		require.NoError(t, err)
		if len(items) == 0 {
			break
		}
		require.NoError(t, q.FailOrAbandon(ctx, items[0], MaxSummaryAttempts, "boom"))
		// Clear the retry backoff so the next Dequeue reclaims the item now.
		_, err = q.db.ExecContext(ctx, `UPDATE pending_summaries SET retry_after = NULL`)
		require.NoError(t, err)
	}

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "note1", failed[0].ID)
}

func TestRetryFailed_ResetsAttemptsAndBackoff(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "content", "summarize", nil))
	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, q.Abandon(ctx, items[0].ID, items[0].Collection, items[0].TaskType, "fatal"))

	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, status, err := q.GetStatus(ctx, "note1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestStatsByType_GroupsActiveItems(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a", "default", "c", "summarize", nil))
	require.NoError(t, q.Enqueue(ctx, "b", "default", "c", "analyze", nil))

	stats, err := q.StatsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["summarize"])
	assert.Equal(t, 1, stats["analyze"])
}

func TestEnqueue_ReplacesExistingRowForSameKey(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "note1", "default", "v1", "summarize", nil))
	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, q.Enqueue(ctx, "note1", "default", "v2", "summarize", nil))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
