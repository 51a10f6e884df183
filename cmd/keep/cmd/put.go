package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type putOptions struct {
	uri     string
	tags    []string
	summary string
	force   bool
}

func newPutCmd() *cobra.Command {
	var opts putOptions

	cmd := &cobra.Command{
		Use:   "put <id> [content]",
		Short: "Create or update a document",
		Long: `Writes content under id, archiving the prior head as a version
when content changes. Content can be given on the command line or
fetched via --uri (a file:// path or an http(s) URL); stdin is not read.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id := args[0]
			var content string
			if len(args) == 2 {
				content = args[1]
			}
			resolved, err := resolveContent(ctx, content, opts.uri)
			if err != nil {
				return err
			}
			if resolved == "" && opts.summary == "" {
				return fmt.Errorf("no content given: pass content, --uri, or --summary")
			}

			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}

			result, err := a.keeper.Upsert(ctx, id, resolved, tags, opts.summary, nil, "")
			if err != nil {
				return err
			}
			if result.Changed {
				a.out.Successf("put %s", result.Item.ID)
			} else {
				a.out.Statusf("", "%s unchanged", result.Item.ID)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.uri, "uri", "", "Fetch content from a file:// path or http(s) URL instead of the argument")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.summary, "summary", "", "Explicit summary, overriding truncation/async summarization")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Write even if content is unchanged (reserved; Upsert already detects no-ops)")

	return cmd
}
