package keeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hughpyle/keep/internal/config"
	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/pendingqueue"
	"github.com/hughpyle/keep/internal/vectorstore"
)

// stubEmbedder returns a fixed-dimension embedding derived from the
// text's length, deterministic enough for kNN tests without a real model.
type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Dimensions() int { return s.dim }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for i := range v {
		v[i] = float32((len(text)+i)%7) + 0.1
	}
	return v, nil
}

func newTestKeeper(t *testing.T) *Keeper {
	t.Helper()
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	vectors := vectorstore.New()
	t.Cleanup(func() { _ = vectors.Close() })

	queue, err := pendingqueue.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	cfg := config.Default()
	return New(docs, vectors, queue, &stubEmbedder{dim: 8}, cfg)
}

func TestUpsert_CreatesNewItem(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	result, err := k.Upsert(ctx, "note1", "hello world", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "note1", result.Item.ID)
	assert.Equal(t, "keep", result.Item.Tags["project"])
}

func TestUpsert_SameContentIsNoop(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "hello world", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)

	result, err := k.Upsert(ctx, "note1", "hello world", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestUpsert_ChangedContentArchivesVersionAndEmbedsIt(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "version one", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "note1", "version two, much longer than the first", nil, "", nil, "")
	require.NoError(t, err)

	maxVer, err := k.docs.MaxVersion(ctx, k.collection, "note1")
	require.NoError(t, err)
	assert.Equal(t, 1, maxVer)

	entry, err := k.vectors.Get(ctx, "note1@v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestTag_MergesWithoutChangingContent(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "hello world", nil, "", nil, "")
	require.NoError(t, err)

	result, err := k.Tag(ctx, "note1", map[string]string{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Item.Tags["status"])
}

func TestDelete_RemovesFromBothStores(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "hello world", nil, "", nil, "")
	require.NoError(t, err)

	require.NoError(t, k.Delete(ctx, "note1", false))

	doc, err := k.docs.Get(ctx, k.collection, "note1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	exists, err := k.vectors.Exists(ctx, "note1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRevert_RestoresPreviousContent(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "version one", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "note1", "version two", nil, "", nil, "")
	require.NoError(t, err)

	doc, err := k.Revert(ctx, "note1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "version one", doc.Summary)
}

func TestMove_ExtractsVersionsToTarget(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "source", "v1", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "source", "v2", nil, "", nil, "")
	require.NoError(t, err)

	moved, err := k.Move(ctx, "source", "target", nil, false)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
}

func TestFind_HybridReturnsUpsertedItem(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "a note about rockets and space travel", nil, "", nil, "")
	require.NoError(t, err)

	items, err := k.Find(ctx, FindOptions{Query: "rockets", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "note1", items[0].ID)
}

func TestFind_SimilarToExcludesSelfByDefault(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "alpha content", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "note2", "beta content", nil, "", nil, "")
	require.NoError(t, err)

	items, err := k.Find(ctx, FindOptions{SimilarTo: "note1", Limit: 10})
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, "note1", it.ID)
	}
}

func TestGetContext_ReturnsTargetItem(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "note1", "hello world", nil, "", nil, "")
	require.NoError(t, err)

	itemCtx, err := k.GetContext(ctx, "note1", 5, 5, true, false, true, true)
	require.NoError(t, err)
	assert.Equal(t, "note1", itemCtx.Item.ID)
}

func TestAnalyze_EnqueuesTask(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	require.NoError(t, k.Analyze(ctx, "note1", "content to analyze", nil))

	n, err := k.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsert_MigratesSystemDocsWhenVersionBehind(t *testing.T) {
	docs, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	vectors := vectorstore.New()
	t.Cleanup(func() { _ = vectors.Close() })
	queue, err := pendingqueue.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	cfg := config.Default()
	cfg.Daemon.SystemDocsVersion = 0
	k := New(docs, vectors, queue, &stubEmbedder{dim: 8}, cfg)

	_, err = k.Upsert(context.Background(), "note1", "hello world", nil, "", nil, "")
	require.NoError(t, err)

	doc, err := docs.Get(context.Background(), "default", ".tag/act")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "system", doc.Tags["category"])
}

func TestGetContext_IncludeMetaResolvesMatchingMetaDoc(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, "anchor", "the anchor item", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "sibling", "related by project tag", map[string]string{"project": "keep"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.docs.Upsert(ctx, k.collection, ".meta/related", "project=keep", nil, "metahash1", "metahash1full0123456789012345678901234567890123456789", "")
	require.NoError(t, err)

	itemCtx, err := k.GetContext(ctx, "anchor", 5, 5, false, true, false, false)
	require.NoError(t, err)
	require.Contains(t, itemCtx.Meta, "related")
	assert.Equal(t, "sibling", itemCtx.Meta["related"][0].ID)
}
