// Package providerlock supplies the cross-process file locks spec §5
// calls for: a model-init lock ("file-lock adapters so only one process
// has the model resident at a time") and the background processor's
// spawn/runtime locks ("guarded by a spawn lock... and a runtime lock").
// Generalized from keep's single-purpose embedding-model lock into a
// named-lock factory so all three share one implementation.
package providerlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a named, cross-process exclusive file lock rooted under a
// shared directory (typically the collection's data directory).
type Lock struct {
	name   string
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock named name under dir, e.g. providerlock.New(dataDir,
// "model") locks <dataDir>/.model.lock and providerlock.New(dataDir,
// "processor") locks <dataDir>/.processor.lock. The two never collide.
func New(dir, name string) *Lock {
	path := filepath.Join(dir, "."+name+".lock")
	return &Lock{
		name:  name,
		path:  path,
		flock: flock.New(path),
	}
}

// Lock acquires the lock, blocking until it is available. Used for the
// provider-initialization lock, where a second caller should simply
// wait for the first model construction to finish.
func (l *Lock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("providerlock %s: creating lock directory: %w", l.name, err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("providerlock %s: acquiring lock: %w", l.name, err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking, returning false
// if another process holds it. Used for the processor spawn lock (spec
// §4.8's "non-blocking file-lock probe") and the daemon runtime lock
// (refuse to start a second daemon rather than wait on the first).
func (l *Lock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("providerlock %s: creating lock directory: %w", l.name, err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("providerlock %s: acquiring lock: %w", l.name, err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call multiple times or when unlocked.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("providerlock %s: releasing lock: %w", l.name, err)
	}
	l.locked = false
	return nil
}

// Path returns the underlying lock file path.
func (l *Lock) Path() string { return l.path }

// IsLocked reports whether this instance currently holds the lock.
func (l *Lock) IsLocked() bool { return l.locked }
