package keeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrompt_NotFoundWhenTemplateMissing(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.ResolvePrompt(ctx, "nonexistent", PromptArgs{})
	assert.Error(t, err)
}

func TestResolvePrompt_DefaultsToNowContext(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".prompt/reflect", "## Prompt\nReflect on recent work.", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, ".now", "currently debugging the parser", nil, "", nil, "")
	require.NoError(t, err)

	result, err := k.ResolvePrompt(ctx, "reflect", PromptArgs{})
	require.NoError(t, err)
	assert.Equal(t, ".now", result.Context.Item.ID)
	assert.Contains(t, result.Prompt, "Reflect on recent work")
	assert.Nil(t, result.SearchResults)
}

func TestResolvePrompt_RunsFindWhenTextGiven(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".prompt/reflect", "## Prompt\nReflect.", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, ".now", "now doc", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "note1", "working on the auth flow today", nil, "", nil, "")
	require.NoError(t, err)

	result, err := k.ResolvePrompt(ctx, "reflect", PromptArgs{Text: "auth flow"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SearchResults)
}

func TestResolvePrompt_HonorsExplicitID(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".prompt/reflect", "## Prompt\nReflect.", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, "note1", "specific target content", nil, "", nil, "")
	require.NoError(t, err)

	result, err := k.ResolvePrompt(ctx, "reflect", PromptArgs{ID: "note1"})
	require.NoError(t, err)
	assert.Equal(t, "note1", result.Context.Item.ID)
}

func TestListPrompts_ReturnsNameAndFirstLineSummary(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	_, err := k.Upsert(ctx, ".prompt/reflect", "Reflect on current work.\nMore detail follows.", nil, "", nil, "")
	require.NoError(t, err)
	_, err = k.Upsert(ctx, ".prompt/summarize", "Summarize recent notes.", nil, "", nil, "")
	require.NoError(t, err)

	infos, err := k.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byName := map[string]string{}
	for _, info := range infos {
		byName[info.Name] = info.Summary
	}
	assert.Equal(t, "Reflect on current work.", byName["reflect"])
	assert.Equal(t, "Summarize recent notes.", byName["summarize"])
}

func TestListPrompts_EmptyWhenNoneExist(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	infos, err := k.ListPrompts(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
