package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/keepid"
)

type getOptions struct {
	similarLimit int
	metaLimit    int
	noSimilar    bool
	noMeta       bool
	noParts      bool
	noVersions   bool
}

func newGetCmd() *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <id>[@v{N}|@p{N}] ...",
		Short: "Render an item's context, or a direct version/part sub-entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				if err := runGetOne(ctx, a, raw, opts); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	cmd.Flags().IntVar(&opts.similarLimit, "similar-limit", 5, "Maximum similar items to show")
	cmd.Flags().IntVar(&opts.metaLimit, "meta-limit", 5, "Maximum meta-doc matches to show")
	cmd.Flags().BoolVar(&opts.noSimilar, "no-similar", false, "Omit similar-item neighbors")
	cmd.Flags().BoolVar(&opts.noMeta, "no-meta", false, "Omit meta-doc resolution")
	cmd.Flags().BoolVar(&opts.noParts, "no-parts", false, "Omit the part manifest")
	cmd.Flags().BoolVar(&opts.noVersions, "no-versions", false, "Omit version navigation")

	return cmd
}

func runGetOne(ctx context.Context, a *app, raw string, opts getOptions) error {
	base, kind, n, err := parseSubEntryID(raw)
	if err != nil {
		return err
	}

	switch kind {
	case subEntryVersion:
		v, err := a.keeper.GetVersion(ctx, base, n)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("not found: %s@v%d", base, n)
		}
		a.out.Statusf("", "%s@v%d: %s", base, n, v.Summary)
		a.out.Code(v.Summary)
		return nil
	case subEntryPart:
		p, err := a.keeper.GetPart(ctx, base, n)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("not found: %s@p%d", base, n)
		}
		a.out.Statusf("", "%s@p%d: %s", base, n, p.Summary)
		a.out.Code(p.Content)
		return nil
	}

	itemCtx, err := a.keeper.GetContext(ctx, base,
		opts.similarLimit, opts.metaLimit,
		!opts.noSimilar, !opts.noMeta, !opts.noParts, !opts.noVersions)
	if err != nil {
		return err
	}

	a.out.Successf("%s", itemCtx.Item.ID)
	a.out.Code(itemCtx.Item.Summary)
	for _, s := range itemCtx.Similar {
		a.out.Statusf("", "  similar: %s (%s)", s.ID, s.Summary)
	}
	for _, p := range itemCtx.Parts {
		a.out.Statusf("", "  part %d: %s", p.PartNum, p.Summary)
	}
	for _, v := range itemCtx.Prev {
		a.out.Statusf("", "  v-%d (%s): %s", v.Offset, v.Date, v.Summary)
	}
	for kind, refs := range itemCtx.Meta {
		for _, r := range refs {
			a.out.Statusf("", "  meta[%s]: %s (%s)", kind, r.ID, r.Summary)
		}
	}
	return nil
}

type subEntryKind int

const (
	subEntryNone subEntryKind = iota
	subEntryVersion
	subEntryPart
)

// parseSubEntryID splits "{base}@v{N}" / "{base}@p{N}" forms, matching
// the CLI's "id(s) with optional @v{N}/@p{N}" get syntax (spec §6).
func parseSubEntryID(raw string) (base string, kind subEntryKind, n int, err error) {
	if keepid.IsVersionID(raw) {
		base = keepid.BaseID(raw)
		suffix := strings.TrimPrefix(raw[len(base):], "@v")
		n, err = strconv.Atoi(suffix)
		if err != nil {
			return "", subEntryNone, 0, fmt.Errorf("invalid version suffix in %q", raw)
		}
		return base, subEntryVersion, n, nil
	}
	if keepid.IsPartID(raw) {
		base = keepid.BaseID(raw)
		suffix := strings.TrimPrefix(raw[len(base):], "@p")
		n, err = strconv.Atoi(suffix)
		if err != nil {
			return "", subEntryNone, 0, fmt.Errorf("invalid part suffix in %q", raw)
		}
		return base, subEntryPart, n, nil
	}
	return raw, subEntryNone, 0, nil
}
