package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/keeper"
	"github.com/hughpyle/keep/internal/model"
)

type promptOptions struct {
	id    string
	text  string
	since string
	until string
	tags  []string
}

func newPromptCmd() *cobra.Command {
	var opts promptOptions

	cmd := &cobra.Command{
		Use:   "prompt [name]",
		Short: "Render a templated agent prompt, or list the available ones",
		Long: `Without a name, lists every prompt document under the reserved
".prompt:" prefix. With a name, resolves its template against the
current context (or --id) and expands any {get}/{find} placeholders
against that same context before printing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runPromptList(ctx, a)
			}
			return runPromptShow(ctx, a, args[0], opts)
		}),
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Item id to render context for (default: .now)")
	cmd.Flags().StringVar(&opts.text, "query", "", "Free-text query for {find} placeholder expansion")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only consider items touched on/after this date")
	cmd.Flags().StringVar(&opts.until, "until", "", "Only consider items touched on/before this date")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag filter key=value (repeatable)")

	return cmd
}

func runPromptList(ctx context.Context, a *app) error {
	infos, err := a.keeper.ListPrompts(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		a.out.Status("i", "no prompts defined")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-20s %s\n", info.Name, info.Summary)
	}
	return nil
}

func runPromptShow(ctx context.Context, a *app, name string, opts promptOptions) error {
	tags, err := parseTags(opts.tags)
	if err != nil {
		return err
	}

	result, err := a.keeper.ResolvePrompt(ctx, name, keeper.PromptArgs{
		ID:    opts.id,
		Text:  opts.text,
		Since: opts.since,
		Until: opts.until,
		Tags:  tags,
	})
	if err != nil {
		return err
	}

	fmt.Println(renderPromptPlaceholders(result))
	return nil
}

// renderPromptPlaceholders expands the {get} and {find} tokens in a
// resolved prompt template against the context/search results Keeper
// already gathered — the CLI-layer rendering step model.PromptResult's
// doc comment defers to its caller.
func renderPromptPlaceholders(result *model.PromptResult) string {
	var body strings.Builder
	body.WriteString(result.Prompt)
	body.WriteString("\n\n")

	if strings.Contains(result.Prompt, "{get}") && result.Context != nil {
		body.WriteString("## Context: ")
		body.WriteString(result.Context.Item.ID)
		body.WriteString("\n\n")
		body.WriteString(result.Context.Item.Summary)
		body.WriteString("\n\n")
		for _, s := range result.Context.Similar {
			score := 0.0
			if s.Score != nil {
				score = *s.Score
			}
			body.WriteString(fmt.Sprintf("similar: %s (%.3f)\n", s.ID, score))
		}
	}

	if strings.Contains(result.Prompt, "{find}") && len(result.SearchResults) > 0 {
		body.WriteString("## Search results\n\n")
		for _, item := range result.SearchResults {
			body.WriteString(fmt.Sprintf("- %-24s %s\n", item.ID, item.Summary))
		}
	}

	return body.String()
}
