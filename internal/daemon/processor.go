// Package daemon runs keep's background pending-queue processor: a
// long-lived process that drains summarize/ocr/embed/reindex/analyze
// tasks on an interval, guarded by spawn/runtime locks so only one
// instance runs against a given data directory at a time.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hughpyle/keep/internal/keeper"
	"github.com/hughpyle/keep/internal/providerlock"
)

// PendingProcessor is the subset of keeper.Keeper the background
// processor drives; satisfied by *keeper.Keeper.
type PendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (keeper.ProcessResult, error)
}

// ProcessorDaemon drains a Keeper's pending queue on an interval until
// stopped, per spec §4.8/§5: a spawn lock guards start, a runtime lock
// prevents two daemons running against the same data directory at once,
// and a PID file is written on start and removed on exit (tolerated
// stale — the runtime lock is the actual source of truth).
type ProcessorDaemon struct {
	dataDir   string
	keeper    PendingProcessor
	interval  time.Duration
	batchSize int

	spawnLock   *providerlock.Lock
	runtimeLock *providerlock.Lock
	pidFile     *PIDFile
}

// NewProcessorDaemon builds a daemon rooted at dataDir, draining keeper
// in batches of batchSize every interval.
func NewProcessorDaemon(dataDir string, keeper PendingProcessor, interval time.Duration, batchSize int) *ProcessorDaemon {
	return &ProcessorDaemon{
		dataDir:     dataDir,
		keeper:      keeper,
		interval:    interval,
		batchSize:   batchSize,
		spawnLock:   providerlock.New(dataDir, "processor-spawn"),
		runtimeLock: providerlock.New(dataDir, "processor-runtime"),
		pidFile:     NewPIDFile(filepath.Join(dataDir, "processor.pid")),
	}
}

// Run acquires the spawn and runtime locks (non-blocking; refuses to
// start a second daemon rather than wait on one), writes the PID file,
// and drains the pending queue every interval until ctx is cancelled.
// It drains once more on cancellation before returning, so the item
// in flight at shutdown isn't simply abandoned.
func (d *ProcessorDaemon) Run(ctx context.Context) error {
	acquired, err := d.spawnLock.TryLock()
	if err != nil {
		return fmt.Errorf("processor spawn lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another process is currently starting the background processor")
	}
	defer d.spawnLock.Unlock()

	acquired, err = d.runtimeLock.TryLock()
	if err != nil {
		return fmt.Errorf("processor runtime lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("a background processor is already running against %s", d.dataDir)
	}
	defer d.runtimeLock.Unlock()

	if err := d.pidFile.Write(); err != nil {
		slog.Warn("writing processor PID file", "error", err)
	}
	defer func() {
		if err := d.pidFile.Remove(); err != nil {
			slog.Warn("removing processor PID file", "error", err)
		}
	}()

	slog.Info("background processor started", "data_dir", d.dataDir, "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drainOnce(context.Background())
			slog.Info("background processor stopped")
			return nil
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *ProcessorDaemon) drainOnce(ctx context.Context) {
	result, err := d.keeper.ProcessPending(ctx, d.batchSize)
	if err != nil {
		slog.Error("pending queue drain failed", "error", err)
		return
	}
	if result.Processed > 0 || result.Failed > 0 || result.Abandoned > 0 {
		slog.Info("pending queue drained",
			"processed", result.Processed, "failed", result.Failed, "abandoned", result.Abandoned)
	}
}
