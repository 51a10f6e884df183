package keeper

import (
	"context"
	"strings"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/model"
)

// promptPrefix namespaces bundled and user-authored prompt templates
// in the document store, matching sysdocs' ".prompt/<name>" migration
// target for the original's "prompt-*.md" bundled docs.
const promptPrefix = ".prompt/"

// PromptArgs parameterizes ResolvePrompt: Text drives an optional Find
// for {find} expansion, ID overrides the default "current" context
// target, and Since/Until/Tags scope that search, mirroring the CLI's
// `prompt name, args` invocation (spec §6).
type PromptArgs struct {
	ID    string
	Text  string
	Since string
	Until string
	Tags  map[string]string
}

// ResolvePrompt loads the prompt template doc for name, then gathers
// the context and (optional) search results it needs for expansion.
// The returned model.PromptResult's Prompt field (the template body,
// possibly containing {get}/{find} placeholders) is expanded by the
// out-of-scope CLI rendering layer, not by Keeper.
func (k *Keeper) ResolvePrompt(ctx context.Context, name string, args PromptArgs) (*model.PromptResult, error) {
	doc, err := k.docs.Get(ctx, k.collection, promptPrefix+name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, kerrors.NotFound(name)
	}

	targetID := args.ID
	if targetID == "" {
		targetID = ".now"
	}
	itemCtx, err := k.GetContext(ctx, targetID,
		k.cfg.Search.DefaultLimit, k.cfg.Search.DefaultLimit,
		true, true, true, true)
	if err != nil {
		return nil, err
	}

	var results []model.Item
	if args.Text != "" {
		results, err = k.Find(ctx, FindOptions{
			Query: args.Text,
			Tags:  args.Tags,
			Since: args.Since,
			Until: args.Until,
		})
		if err != nil {
			return nil, err
		}
	}

	return &model.PromptResult{
		Context:       itemCtx,
		SearchResults: results,
		Prompt:        doc.Summary,
	}, nil
}

// ListPrompts returns every available prompt template, bundled or
// user-authored, sorted by name.
func (k *Keeper) ListPrompts(ctx context.Context) ([]model.PromptInfo, error) {
	docs, err := k.docs.QueryByIDPrefix(ctx, k.collection, promptPrefix)
	if err != nil {
		return nil, err
	}
	infos := make([]model.PromptInfo, 0, len(docs))
	for _, d := range docs {
		infos = append(infos, model.PromptInfo{
			Name:    strings.TrimPrefix(d.ID, promptPrefix),
			Summary: firstLine(d.Summary),
		})
	}
	return infos, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
