package providerlock

import (
	"os"
	"testing"
)

func TestLock_LockUnlock(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir, "model")

	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); os.IsNotExist(err) {
		t.Error("lock file was not created")
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}

func TestLock_UnlockWithoutLockIsNoop(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir, "model")
	if err := lock.Unlock(); err != nil {
		t.Errorf("Unlock() without Lock() should not error: %v", err)
	}
}

func TestLock_DoubleUnlockIsNoop(t *testing.T) {
	dir := t.TempDir()
	lock := New(dir, "processor")
	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("first Unlock() failed: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Errorf("second Unlock() should not error: %v", err)
	}
}

func TestLock_DistinctNamesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	model := New(dir, "model")
	processor := New(dir, "processor")

	if err := model.Lock(); err != nil {
		t.Fatalf("model.Lock() failed: %v", err)
	}
	defer model.Unlock()

	ok, err := processor.TryLock()
	if err != nil {
		t.Fatalf("processor.TryLock() failed: %v", err)
	}
	if !ok {
		t.Fatal("processor lock should be independently acquirable while model lock is held")
	}
	defer processor.Unlock()
}

func TestLock_TryLockFailsWhenAlreadyHeldByAnotherInstance(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, "processor")
	second := New(dir, "processor")

	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("first.TryLock() = %v, %v", ok, err)
	}
	defer first.Unlock()

	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second.TryLock() errored: %v", err)
	}
	if ok {
		t.Fatal("second.TryLock() should fail while first holds the lock")
	}
}
