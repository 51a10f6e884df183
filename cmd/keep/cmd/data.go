package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/keeper"
	"github.com/hughpyle/keep/internal/model"
	"github.com/hughpyle/keep/pkg/version"
)

const (
	exportFormat  = "keep-export"
	exportVersion = 1
)

// wireVersion/wirePart/wireDocument mirror spec §6's stable streaming
// export schema. Embeddings are never written: import regenerates them.
// Parts are written without a created_at field.
type wireVersion struct {
	Number      int               `json:"version"`
	Summary     string            `json:"summary"`
	Tags        map[string]string `json:"tags,omitempty"`
	ContentHash string            `json:"content_hash"`
	ArchivedAt  string            `json:"created_at"`
}

type wirePart struct {
	Number  int               `json:"part_num"`
	Summary string            `json:"summary"`
	Content string            `json:"content"`
	Tags    map[string]string `json:"tags,omitempty"`
}

type wireDocument struct {
	ID              string            `json:"id"`
	Summary         string            `json:"summary"`
	Tags            map[string]string `json:"tags,omitempty"`
	ContentHash     string            `json:"content_hash"`
	ContentHashFull string            `json:"content_hash_full"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	AccessedAt      string            `json:"accessed_at"`
	Versions        []wireVersion     `json:"versions,omitempty"`
	Parts           []wirePart        `json:"parts,omitempty"`
}

type exportHeader struct {
	Format     string         `json:"format"`
	Version    int            `json:"version"`
	ExportedAt string         `json:"exported_at"`
	StoreInfo  map[string]any `json:"store_info"`
}

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Export or import the store as streaming JSON",
	}
	cmd.AddCommand(newDataExportCmd())
	cmd.AddCommand(newDataImportCmd())
	return cmd
}

func newDataExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write every document, version, and part to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return runDataExport(ctx, a, args[0])
		}),
	}
	return cmd
}

func newDataImportCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load documents, versions, and parts from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if mode != "merge" && mode != "replace" {
				return fmt.Errorf("--mode must be \"merge\" or \"replace\", got %q", mode)
			}
			return runDataImport(ctx, a, args[0], mode)
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", "merge", `Import mode: "merge" (skip existing ids) or "replace" (wipe first)`)
	return cmd
}

func runDataExport(ctx context.Context, a *app, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	ids, err := a.keeper.ListAllIDs(ctx)
	if err != nil {
		return err
	}

	header := exportHeader{
		Format:     exportFormat,
		Version:    exportVersion,
		ExportedAt: model.UTCNow(),
		StoreInfo: map[string]any{
			"collection":     a.keeper.Collection(),
			"document_count": len(ids),
			"keep_version":   version.Short(),
		},
	}
	fmt.Fprintf(w, `{"format":%q,"version":%d,"exported_at":%q,"store_info":`,
		header.Format, header.Version, header.ExportedAt)
	storeInfo, err := json.Marshal(header.StoreInfo)
	if err != nil {
		return err
	}
	w.Write(storeInfo)
	w.WriteString(`,"documents":[`)

	enc := json.NewEncoder(w)
	for i, id := range ids {
		ed, err := a.keeper.ExportDocument(ctx, id)
		if err != nil {
			a.out.Warningf("skipping %s: %v", id, err)
			continue
		}
		if ed == nil {
			continue
		}
		if i > 0 {
			w.WriteString(",")
		}
		if err := enc.Encode(toWireDocument(ed)); err != nil {
			return err
		}
	}
	w.WriteString(`]}` + "\n")

	a.out.Successf("exported %d document(s) to %s", len(ids), path)
	return nil
}

func toWireDocument(ed *keeper.ExportDocument) wireDocument {
	wd := wireDocument{
		ID: ed.Doc.ID, Summary: ed.Doc.Summary, Tags: ed.Doc.Tags,
		ContentHash: ed.Doc.ContentHash, ContentHashFull: ed.Doc.ContentHashFull,
		CreatedAt: ed.Doc.CreatedAt, UpdatedAt: ed.Doc.UpdatedAt, AccessedAt: ed.Doc.AccessedAt,
	}
	for _, v := range ed.Versions {
		wd.Versions = append(wd.Versions, wireVersion{
			Number: v.Number, Summary: v.Summary, Tags: v.Tags,
			ContentHash: v.ContentHash, ArchivedAt: v.ArchivedAt,
		})
	}
	for _, p := range ed.Parts {
		wd.Parts = append(wd.Parts, wirePart{
			Number: p.Number, Summary: p.Summary, Content: p.Content, Tags: p.Tags,
		})
	}
	return wd
}

func runDataImport(ctx context.Context, a *app, path string, mode string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var raw struct {
		Format    string          `json:"format"`
		Version   int             `json:"version"`
		Documents []wireDocument  `json:"documents"`
	}
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&raw); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if raw.Format != exportFormat {
		return fmt.Errorf("unrecognized export format %q", raw.Format)
	}

	if mode == "replace" {
		if err := a.keeper.ClearCollection(ctx); err != nil {
			return err
		}
	}

	imported, skipped := 0, 0
	for _, wd := range raw.Documents {
		if mode == "merge" {
			exists, err := a.keeper.DocumentExists(ctx, wd.ID)
			if err != nil {
				return err
			}
			if exists {
				skipped++
				continue
			}
		}
		if err := a.keeper.ImportDocument(ctx, fromWireDocument(wd)); err != nil {
			a.out.Warningf("skipping %s: %v", wd.ID, err)
			continue
		}
		imported++
	}

	a.out.Successf("imported %d document(s), skipped %d (mode=%s)", imported, skipped, mode)
	return nil
}

func fromWireDocument(wd wireDocument) *keeper.ExportDocument {
	doc := model.Document{
		ID: wd.ID, Summary: wd.Summary, Tags: wd.Tags,
		ContentHash: wd.ContentHash, ContentHashFull: wd.ContentHashFull,
		CreatedAt: wd.CreatedAt, UpdatedAt: wd.UpdatedAt, AccessedAt: wd.AccessedAt,
	}
	ed := &keeper.ExportDocument{Doc: doc}
	for _, v := range wd.Versions {
		ed.Versions = append(ed.Versions, &model.Version{
			ID: wd.ID, Number: v.Number, Summary: v.Summary, Tags: v.Tags,
			ContentHash: v.ContentHash, ArchivedAt: v.ArchivedAt,
		})
	}
	for _, p := range wd.Parts {
		ed.Parts = append(ed.Parts, model.Part{
			ID: wd.ID, Number: p.Number, Summary: p.Summary, Content: p.Content, Tags: p.Tags,
		})
	}
	return ed
}
