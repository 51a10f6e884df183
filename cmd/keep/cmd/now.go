package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type nowOptions struct {
	scope   string
	tags    []string
	version int
	history bool
	limit   int
}

func newNowCmd() *cobra.Command {
	var opts nowOptions

	cmd := &cobra.Command{
		Use:   "now [content]",
		Short: "Read or set the working context",
		Long: `With no content argument, shows the current working context
(the ".now" document, or ".now:{scope}" with --scope). With content,
replaces it, archiving the prior value as a version.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id := ".now"
			if opts.scope != "" {
				id = ".now:" + opts.scope
			}

			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				result, err := a.keeper.Upsert(ctx, id, args[0], tags, "", nil, "")
				if err != nil {
					return err
				}
				a.out.Successf("now: %s", result.Item.Summary)
				return nil
			}

			if opts.version > 0 {
				v, err := a.keeper.GetVersion(ctx, id, opts.version)
				if err != nil {
					return err
				}
				if v == nil {
					return fmt.Errorf("version not found (offset %d)", opts.version)
				}
				a.out.Code(v.Summary)
				return nil
			}

			limit := opts.limit
			if limit <= 0 {
				limit = 3
			}
			itemCtx, err := a.keeper.GetContext(ctx, id, limit, limit, !opts.history, !opts.history, false, true)
			if err != nil {
				return err
			}
			a.out.Code(itemCtx.Item.Summary)
			if opts.history {
				for _, v := range itemCtx.Prev {
					a.out.Statusf("", "  v-%d (%s): %s", v.Offset, v.Date, v.Summary)
				}
			} else {
				for _, s := range itemCtx.Similar {
					a.out.Statusf("", "  similar: %s (%s)", s.ID, s.Summary)
				}
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.scope, "scope", "", "Scope for multi-user isolation (e.g. a user id)")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Set tag (with content) or filter (without content; reserved)")
	cmd.Flags().IntVarP(&opts.version, "version", "V", 0, "Show a specific prior version (1=previous, 2=before that, ...)")
	cmd.Flags().BoolVarP(&opts.history, "history", "H", false, "List all versions")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Max similar/version items to show")

	return cmd
}
