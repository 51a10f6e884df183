package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hughpyle/keep/internal/keeper"
)

type fakeProcessor struct {
	calls   int
	results []keeper.ProcessResult
	err     error
}

func (f *fakeProcessor) ProcessPending(ctx context.Context, limit int) (keeper.ProcessResult, error) {
	f.calls++
	if f.err != nil {
		return keeper.ProcessResult{}, f.err
	}
	if f.calls-1 < len(f.results) {
		return f.results[f.calls-1], nil
	}
	return keeper.ProcessResult{}, nil
}

func TestProcessorDaemon_DrainsOnIntervalAndOnShutdown(t *testing.T) {
	dir := t.TempDir()
	fp := &fakeProcessor{}
	d := NewProcessorDaemon(dir, fp, 10*time.Millisecond, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if fp.calls == 0 {
		t.Fatal("expected at least one drain call")
	}
}

func TestProcessorDaemon_WritesAndRemovesPIDFile(t *testing.T) {
	dir := t.TempDir()
	fp := &fakeProcessor{}
	d := NewProcessorDaemon(dir, fp, 5*time.Millisecond, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if _, err := os.Stat(d.pidFile.Path()); !os.IsNotExist(err) {
		t.Fatal("PID file should be removed after shutdown")
	}
}

func TestProcessorDaemon_RefusesSecondRuntimeLockHolder(t *testing.T) {
	dir := t.TempDir()
	lock := NewProcessorDaemon(dir, &fakeProcessor{}, time.Second, 5).runtimeLock
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("pre-acquiring runtime lock failed: ok=%v err=%v", ok, err)
	}
	defer lock.Unlock()

	d := NewProcessorDaemon(dir, &fakeProcessor{}, time.Second, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := d.Run(ctx); err == nil {
		t.Fatal("expected Run() to refuse starting while another holds the runtime lock")
	}
}
