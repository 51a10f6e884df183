package metaresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/model"
)

func openTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func upsert(t *testing.T, s *docstore.Store, id, content string, tags map[string]string) {
	t.Helper()
	_, _, err := s.Upsert(context.Background(), "default", id, content, tags, id+"hash", id+"hashfull0123456789012345678901234567890123456789012345", model.UTCNow())
	require.NoError(t, err)
}

func TestResolveMeta_FixedQueryLineMatchesByTag(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "the anchor item", map[string]string{"project": "keep"})
	upsert(t, docs, "sibling", "related by project tag", map[string]string{"project": "keep"})
	upsert(t, docs, ".meta/related", "project=keep", nil)

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(ctx, "anchor", 10)
	require.NoError(t, err)
	require.Contains(t, refs, "related")
	require.Len(t, refs["related"], 1)
	assert.Equal(t, "sibling", refs["related"][0].ID)
}

func TestResolveMeta_ContextKeyExpandsFromAnchorTag(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "the anchor item", map[string]string{"author": "mel"})
	upsert(t, docs, "other", "same author", map[string]string{"author": "mel"})
	upsert(t, docs, ".meta/byauthor", "author=", nil)

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(ctx, "anchor", 10)
	require.NoError(t, err)
	require.Contains(t, refs, "byauthor")
	assert.Equal(t, "other", refs["byauthor"][0].ID)
}

func TestResolveMeta_PrereqKeyGatesActivation(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "no flag here", nil)
	upsert(t, docs, "other", "candidate", map[string]string{"project": "keep"})
	upsert(t, docs, ".meta/gated", "flagged=*\nproject=keep", nil)

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(ctx, "anchor", 10)
	require.NoError(t, err)
	assert.NotContains(t, refs, "gated")
}

func TestResolveMeta_PrereqSatisfiedActivatesQuery(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "flagged item", map[string]string{"flagged": "true"})
	upsert(t, docs, "other", "candidate", map[string]string{"project": "keep"})
	upsert(t, docs, ".meta/gated", "flagged=*\nproject=keep", nil)

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(ctx, "anchor", 10)
	require.NoError(t, err)
	require.Contains(t, refs, "gated")
	assert.Equal(t, "other", refs["gated"][0].ID)
}

func TestResolveMeta_ExcludesAnchorAndHiddenIDs(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "the anchor item", map[string]string{"project": "keep"})
	upsert(t, docs, ".hidden", "hidden candidate", map[string]string{"project": "keep"})
	upsert(t, docs, ".meta/related", "project=keep", nil)

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(ctx, "anchor", 10)
	require.NoError(t, err)
	assert.NotContains(t, refs, "related")
}

func TestResolveInlineMeta_RunsAdHocSpec(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()

	upsert(t, docs, "anchor", "the anchor item", nil)
	upsert(t, docs, "candidate", "match me", map[string]string{"status": "active"})

	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveInlineMeta(ctx, "anchor", map[string]string{"status": "active"}, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "candidate", refs[0].ID)
}

func TestResolveMeta_UnknownAnchorReturnsNil(t *testing.T) {
	docs := openTestStore(t)
	r := New(docs, nil, "default", 0)
	refs, err := r.ResolveMeta(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Nil(t, refs)
}
