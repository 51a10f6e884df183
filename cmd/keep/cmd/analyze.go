package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	tags  []string
	force bool
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Queue a document for asynchronous decomposition into parts",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id := args[0]
			itemCtx, err := a.keeper.GetContext(ctx, id, 0, 0, false, false, false, false)
			if err != nil {
				return err
			}

			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}
			var metadata map[string]any
			if len(tags) > 0 {
				metadata = map[string]any{"guide_tags": tags}
			}
			if opts.force {
				if metadata == nil {
					metadata = map[string]any{}
				}
				metadata["force"] = true
			}

			if err := a.keeper.Analyze(ctx, id, itemCtx.Item.Summary, metadata); err != nil {
				return err
			}
			a.out.Successf("queued analysis for %s", id)
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&opts.tags, "guide-tag", nil, "Guide tag key=value steering decomposition (repeatable)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-analyze even if parts already exist")

	return cmd
}
