// Package cmd provides the CLI commands for keep.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/logging"
	"github.com/hughpyle/keep/pkg/version"
)

// Debug logging flag, mirroring the teacher's persistent --debug wiring.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the keep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keep",
		Short: "A durable, searchable memory store for agents and developers",
		Long: `keep holds documents, their archived versions, and decomposed
parts, indexed by both full-text and semantic search, with tag-driven
metadata and agent-facing prompts layered on top.

It runs entirely locally against an on-disk store at $KEEP_STORE_PATH
(default ~/.keep), with an optional remote task service for offloaded
summarization and analysis.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("keep version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the ops log")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newNowCmd())
	cmd.AddCommand(newMoveCmd())
	cmd.AddCommand(newTagCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newDelCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newDataCmd())
	cmd.AddCommand(newPromptCmd())
	cmd.AddCommand(newReconcileCmd())

	return cmd
}

// startLogging wires debug logging, matching the teacher's
// startProfilingAndLogging hook minus the dropped profiling flags.
func startLogging(cmd *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and maps the outcome to spec §6's exit
// codes: 0 ok, 1 error, 130 SIGINT.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if ctx.Err() != nil {
		return 130
	}
	fmt.Fprintln(os.Stderr, "keep:", err)
	return 1
}
