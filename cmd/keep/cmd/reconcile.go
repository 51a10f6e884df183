package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Detect (or repair) drift between the document and vector stores",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			result, err := a.keeper.Reconcile(ctx, fix)
			if err != nil {
				return err
			}

			if result.FullReindex {
				a.out.Statusf("i", "vector store migrated similarity metric; %d document(s) %s for reindex",
					result.ReindexEnqueued, ternary(fix, "enqueued", "would be enqueued"))
				return nil
			}

			if result.OrphanVectors == 0 && result.MissingEmbeddings == 0 {
				a.out.Success("no drift detected")
				return nil
			}

			verb := "found"
			if fix {
				verb = "repaired"
			}
			a.out.Statusf("i", "%s %d orphan vector(s), %d missing embedding(s)",
				verb, result.OrphanVectors, result.MissingEmbeddings)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Repair detected drift instead of only reporting it")

	return cmd
}

func ternary(cond bool, t, f string) string {
	if cond {
		return t
	}
	return f
}
