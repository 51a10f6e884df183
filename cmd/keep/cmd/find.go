package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/keeper"
)

type findOptions struct {
	similarTo string
	tags      []string
	deep      bool
	fulltext  bool
	since     string
	until     string
	limit     int
	hidden    bool
}

func newFindCmd() *cobra.Command {
	var opts findOptions

	cmd := &cobra.Command{
		Use:   "find [query]",
		Short: "Hybrid search: semantic + full-text, fused and recency-weighted",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}

			items, err := a.keeper.Find(ctx, keeper.FindOptions{
				Query:         query,
				SimilarTo:     opts.similarTo,
				Tags:          tags,
				Fulltext:      opts.fulltext,
				Deep:          opts.deep,
				IncludeSelf:   false,
				IncludeHidden: opts.hidden,
				Limit:         opts.limit,
				Since:         opts.since,
				Until:         opts.until,
			})
			if err != nil {
				return err
			}
			if len(items) == 0 {
				a.out.Status("", "no results")
				return nil
			}
			for _, it := range items {
				score := 0.0
				if it.Score != nil {
					score = *it.Score
				}
				a.out.Statusf("", "%-24s %.3f  %s", it.ID, score, it.Summary)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.similarTo, "similar", "", "Find items similar to this id instead of a text query")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Filter by tag key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.deep, "deep", false, "After ranking, follow edges (or tags) from the results and list related items")
	cmd.Flags().BoolVar(&opts.fulltext, "fulltext", false, "Full-text only, skip semantic search")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only items updated on/after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.until, "until", "", "Only items updated on/before this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum results (0 = config default)")
	cmd.Flags().BoolVar(&opts.hidden, "hidden", false, "Include hidden (dot-prefixed) items")

	return cmd
}
