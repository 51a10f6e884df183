package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hughpyle/keep/internal/daemon"
)

const (
	pendingDaemonInterval  = 5 * time.Second
	pendingDaemonBatchSize = 50
)

type pendingOptions struct {
	retry   bool
	reindex bool
	stop    bool
	daemon  bool
}

func newPendingCmd() *cobra.Command {
	var opts pendingOptions

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Drain or inspect the background task queue",
		Long: `With no flags, reports the queue's current depth. --retry resets
dead-lettered tasks back to pending. --reindex forces a full re-embed
sweep of every document. --daemon runs the background processor in the
foreground until interrupted. --stop signals a running --daemon process
to shut down.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			switch {
			case opts.stop:
				return runPendingStop(a)
			case opts.daemon:
				return runPendingDaemon(ctx, a)
			case opts.retry:
				return runPendingRetry(ctx, a)
			case opts.reindex:
				return runPendingReindex(ctx, a)
			default:
				return runPendingStatus(ctx, a)
			}
		}),
	}

	cmd.Flags().BoolVar(&opts.retry, "retry", false, "Reset dead-lettered tasks back to pending")
	cmd.Flags().BoolVar(&opts.reindex, "reindex", false, "Force a full re-embed of every document")
	cmd.Flags().BoolVar(&opts.stop, "stop", false, "Signal a running --daemon process to stop")
	cmd.Flags().BoolVar(&opts.daemon, "daemon", false, "Run the background processor until interrupted")

	return cmd
}

func runPendingStatus(ctx context.Context, a *app) error {
	total, byType, err := a.keeper.QueueStats(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		a.out.Status("i", "queue is empty")
		return nil
	}
	a.out.Statusf("i", "%d task(s) queued", total)
	for taskType, n := range byType {
		fmt.Fprintf(os.Stdout, "  %-12s %d\n", taskType, n)
	}
	return nil
}

func runPendingRetry(ctx context.Context, a *app) error {
	n, err := a.keeper.RetryFailed(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		a.out.Status("i", "no failed tasks to retry")
		return nil
	}
	a.out.Successf("reset %d failed task(s) to pending", n)
	return nil
}

func runPendingReindex(ctx context.Context, a *app) error {
	n, err := a.keeper.EnqueueReindexAll(ctx)
	if err != nil {
		return err
	}
	a.out.Successf("enqueued %d document(s) for reindex", n)
	return nil
}

// runPendingStop reads the daemon's PID file and signals it to shut
// down gracefully, matching the teacher's SIGTERM-then-PID-file-cleanup
// convention (the daemon itself removes the file on exit).
func runPendingStop(a *app) error {
	pidFile := daemon.NewPIDFile(filepath.Join(a.cfg.Store.Path, "processor.pid"))
	if !pidFile.IsRunning() {
		_ = pidFile.Remove()
		a.out.Status("i", "no processor running")
		return nil
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling processor: %w", err)
	}
	a.out.Success("sent stop signal to background processor")
	return nil
}

// runPendingDaemon drains the queue on an interval until the process
// receives SIGINT/SIGTERM (root.go's Execute wires that into ctx), with
// a live status TUI layered on top when stdout is a terminal.
func runPendingDaemon(ctx context.Context, a *app) error {
	d := daemon.NewProcessorDaemon(a.cfg.Store.Path, a.keeper, pendingDaemonInterval, pendingDaemonBatchSize)

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return d.Run(ctx)
	}

	daemonCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(daemonCtx) }()

	program := tea.NewProgram(newPendingModel(a.keeper))
	if _, err := program.Run(); err != nil {
		cancel()
		<-errCh
		return fmt.Errorf("running pending TUI: %w", err)
	}
	cancel()
	return <-errCh
}
