package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTagCmd() *cobra.Command {
	var add, remove []string

	cmd := &cobra.Command{
		Use:   "tag-update <id>",
		Short: "Add or remove user tags without re-embedding content",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			id := args[0]
			existing, err := a.keeper.GetContext(ctx, id, 0, 0, false, false, false, false)
			if err != nil {
				return err
			}

			merged := map[string]string{}
			for k, v := range existing.Item.Tags {
				merged[k] = v
			}
			added, err := parseTags(add)
			if err != nil {
				return err
			}
			for k, v := range added {
				merged[k] = v
			}
			for _, k := range remove {
				delete(merged, strings.TrimSpace(k))
			}

			result, err := a.keeper.Tag(ctx, id, merged)
			if err != nil {
				return err
			}
			a.out.Successf("tagged %s", result.Item.ID)
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&add, "set", nil, "Tag key=value to add or overwrite (repeatable)")
	cmd.Flags().StringSliceVar(&remove, "unset", nil, "Tag key to remove (repeatable)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if len(add) == 0 && len(remove) == 0 {
			return fmt.Errorf("at least one --set or --unset is required")
		}
		return nil
	}

	return cmd
}
