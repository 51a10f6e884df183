package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/config"
	"github.com/hughpyle/keep/internal/docstore"
	"github.com/hughpyle/keep/internal/embed"
	"github.com/hughpyle/keep/internal/keeper"
	"github.com/hughpyle/keep/internal/output"
	"github.com/hughpyle/keep/internal/pendingqueue"
	"github.com/hughpyle/keep/internal/vectorstore"
)

// app bundles the loaded config and live Keeper a command operates
// against, plus the formatter writing to the command's own streams.
type app struct {
	cfg    *config.Config
	keeper *keeper.Keeper
	out    *output.Writer
	vecs   *vectorstore.Store
	vecPath string
}

// openApp loads configuration, opens the three on-disk stores, and
// constructs a Keeper. The returned close func persists the vector
// store and releases every handle; callers defer it immediately.
func openApp(cmd *cobra.Command) (*app, func() error, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating store directory: %w", err)
	}

	docs, err := docstore.Open(filepath.Join(cfg.Store.Path, "docs.db"))
	if err != nil {
		return nil, nil, err
	}

	vecPath := filepath.Join(cfg.Store.Path, "vectors.gob")
	vecs := vectorstore.New()
	if _, statErr := os.Stat(vecPath); statErr == nil {
		if err := vecs.Load(vecPath); err != nil {
			docs.Close()
			return nil, nil, fmt.Errorf("loading vector store: %w", err)
		}
	}

	queue, err := pendingqueue.Open(filepath.Join(cfg.Store.Path, "pending.db"))
	if err != nil {
		docs.Close()
		return nil, nil, err
	}

	embedder, err := embed.NewEmbedder(cmd.Context(), embed.ParseProvider(cfg.Embedding.Provider), cfg.Embedding.Model, cfg.Embedding.Host)
	if err != nil {
		docs.Close()
		queue.Close()
		return nil, nil, fmt.Errorf("initializing embedder: %w", err)
	}

	k := keeper.New(docs, vecs, queue, embedder, cfg)

	a := &app{cfg: cfg, keeper: k, out: output.New(cmd.OutOrStdout()), vecs: vecs, vecPath: vecPath}
	closeFn := func() error {
		saveErr := vecs.Save(vecPath)
		closeErr := k.Close()
		if saveErr != nil {
			return saveErr
		}
		return closeErr
	}
	return a, closeFn, nil
}

// withApp wraps a command's RunE body with openApp/closeFn bracketing,
// matching the teacher's per-command lifecycle instead of a global
// singleton.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd.Context(), a, cmd, args)
	}
}
