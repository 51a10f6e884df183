package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

type moveOptions struct {
	source      string
	tags        []string
	onlyCurrent bool
}

func newMoveCmd() *cobra.Command {
	var opts moveOptions

	cmd := &cobra.Command{
		Use:   "move <target>",
		Short: "Extract archived versions into a named document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			source := opts.source
			if source == "" {
				source = ".now"
			}
			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}
			moved, err := a.keeper.Move(ctx, source, args[0], tags, opts.onlyCurrent)
			if err != nil {
				return err
			}
			a.out.Successf("moved %d version(s) from %s to %s", len(moved), source, args[0])
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Source document to extract from (default: .now)")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Only versions matching tag key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.onlyCurrent, "only-current", false, "Only extract the current head, not archived versions")

	return cmd
}
