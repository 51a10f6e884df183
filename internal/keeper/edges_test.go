package keeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

func TestUpsert_TagdocInverseClosesBidirectionally(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)

	inverse, err := k.docs.Get(ctx, k.collection, ".tag/said")
	require.NoError(t, err)
	require.NotNil(t, inverse)
	assert.Equal(t, "speaker", inverse.Tags["_inverse"])
}

func TestUpsert_TagdocInverseConflictRaises(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/said", "", map[string]string{"_inverse": "other"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.Error(t, err)
	var kerr *kerrors.KeepError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kerrors.KindConflict, kerr.Kind)
}

func TestUpsert_EdgeMaterializesFromTaggedDocument(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "we talked about hiking", map[string]string{"speaker": "Melanie"}, "", nil, "")
	require.NoError(t, err)

	edges, err := k.docs.GetInverseEdges(ctx, k.collection, "Melanie")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "session1", edges[0].SourceID)
	assert.Equal(t, "speaker", edges[0].Predicate)
	assert.Equal(t, "said", edges[0].InverseVerb)

	entity, err := k.docs.Get(ctx, k.collection, "Melanie")
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "auto-vivify", entity.Tags["_source"])
}

func TestUpsert_EdgeCleanupRemovesOnlyChangedPredicate(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, ".tag/project", "", map[string]string{"_inverse": "has_session"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "content", map[string]string{"speaker": "Melanie", "project": "keep"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "content", map[string]string{"speaker": "Jordan", "project": "keep"}, "", nil, "")
	require.NoError(t, err)

	speakerEdges, err := k.docs.GetInverseEdges(ctx, k.collection, "Melanie")
	require.NoError(t, err)
	assert.Empty(t, speakerEdges)

	projectEdges, err := k.docs.GetInverseEdges(ctx, k.collection, "keep")
	require.NoError(t, err)
	require.Len(t, projectEdges, 1)
}

func TestUpsert_SysdocTargetSkipsEdgeAndMutation(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "content", map[string]string{"speaker": ".meta/todo"}, "", nil, "")
	require.NoError(t, err)

	edges, err := k.docs.GetInverseEdges(ctx, k.collection, ".meta/todo")
	require.NoError(t, err)
	assert.Empty(t, edges)

	metadoc, err := k.docs.Get(ctx, k.collection, ".meta/todo")
	require.NoError(t, err)
	assert.Nil(t, metadoc)
}

func TestUpsert_ConstrainedTagRejectsUnknownValue(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/status", "", map[string]string{"_constrained": "true"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, ".tag/status/open", "", nil, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "note1", "content", map[string]string{"status": "bogus"}, "", nil, "")
	require.Error(t, err)
	var kerr *kerrors.KeepError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kerrors.KindConstrained, kerr.Kind)
	assert.Contains(t, kerr.ValidValues, "open")

	_, err = k.Upsert(ctx, "note2", "content", map[string]string{"status": "open"}, "", nil, "")
	require.NoError(t, err)
}

func TestUpsert_VersionPathEdgesDisabledByDefault(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "first draft", map[string]string{"speaker": "Melanie"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "session1", "revised draft", map[string]string{"speaker": "Jordan"}, "", nil, "")
	require.NoError(t, err)

	edges, err := k.docs.GetInverseEdges(ctx, k.collection, "Melanie")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestUpsert_VersionPathEdgesMaterializeWhenEnabled(t *testing.T) {
	k := newTestKeeper(t)
	k.cfg.Edges.IncludeVersionPath = true
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".tag/speaker", "", map[string]string{"_inverse": "said"}, "", nil, "")
	require.NoError(t, err)

	_, err = k.Upsert(ctx, "session1", "first draft", map[string]string{"speaker": "Melanie"}, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "session1", "revised draft", map[string]string{"speaker": "Jordan"}, "", nil, "")
	require.NoError(t, err)

	edges, err := k.docs.GetInverseEdges(ctx, k.collection, "Melanie")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "session1@v1", edges[0].SourceID)
}
