package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/keeper"
)

type listOptions struct {
	prefix     string
	tagKey     string
	tags       []string
	since      string
	until      string
	byAccessed bool
	limit      int
	history    bool
	parts      bool
}

func newListCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent items by prefix, tag, or recency",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}
			items, err := a.keeper.List(ctx, keeper.ListOptions{
				Prefix:         opts.prefix,
				TagKey:         opts.tagKey,
				Tags:           tags,
				Since:          opts.since,
				Until:          opts.until,
				SortByAccessed: opts.byAccessed,
				Limit:          opts.limit,
				IncludeHistory: opts.history,
				IncludeParts:   opts.parts,
			})
			if err != nil {
				return err
			}
			if len(items) == 0 {
				a.out.Status("", "no items")
				return nil
			}
			for _, it := range items {
				a.out.Statusf("", "%-24s %s", it.ID, it.Summary)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Only ids with this prefix")
	cmd.Flags().StringVar(&opts.tagKey, "tag-key", "", "Only items carrying this tag key")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Filter by tag key=value (repeatable)")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only items updated on/after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.until, "until", "", "Only items updated on/before this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.byAccessed, "by-accessed", false, "Sort by last access instead of last update")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum items (0 = config default)")
	cmd.Flags().BoolVar(&opts.history, "history", false, "Annotate each item with its archived version count")
	cmd.Flags().BoolVar(&opts.parts, "parts", false, "Annotate each item with its part count")

	return cmd
}
