package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "del <id>[@v{N}] ...",
		Short: "Revert the current version, or delete one archived version",
		Long: `Without a @v{N} suffix, reverts id to its previous archived version
(or fully deletes it if no history remains). With @v{N}, permanently
deletes that one archived version; other versions and the head are
untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			hadErrors := false
			for _, raw := range args {
				if err := runDelOne(ctx, a, raw); err != nil {
					a.out.Errorf("%s: %v", raw, err)
					hadErrors = true
				}
			}
			if hadErrors {
				return fmt.Errorf("one or more deletes failed")
			}
			return nil
		}),
	}
	return cmd
}

func runDelOne(ctx context.Context, a *app, raw string) error {
	base, kind, n, err := parseSubEntryID(raw)
	if err != nil {
		return err
	}
	if kind == subEntryPart {
		return fmt.Errorf("cannot delete individual parts; re-analyze or delete the parent")
	}
	if kind == subEntryVersion {
		deleted, err := a.keeper.DeleteVersion(ctx, base, n)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("version not found")
		}
		a.out.Successf("deleted %s@v%d", base, n)
		return nil
	}

	restored, err := a.keeper.Revert(ctx, base)
	if err != nil {
		return err
	}
	if restored == nil {
		if err := a.keeper.Delete(ctx, base, true); err != nil {
			return err
		}
		a.out.Successf("deleted %s", base)
		return nil
	}
	a.out.Successf("reverted %s to %s", base, restored.Summary)
	return nil
}
