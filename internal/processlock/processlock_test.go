package processlock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/CygnusNetworks/gonotifyd/internal/testlib"
)

func TestAcquireRelease(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	path := filepath.Join(dir, "lock")
	l := New(path)

	if !l.TryAcquire() {
		t.Fatalf("TryAcquire failed on an unheld lock")
	}
	if got := l.Owner(); got != os.Getpid() {
		t.Errorf("Owner() = %d, want %d", got, os.Getpid())
	}

	// A second instance should not be able to acquire it.
	l2 := New(path)
	if l2.TryAcquire() {
		t.Errorf("TryAcquire succeeded on a lock held by a live process")
	}

	if !l.Release(false) {
		t.Fatalf("Release failed on our own lock")
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Errorf("lock symlink still exists after Release")
	}
}

func TestTryAcquireTwiceOnSameInstancePanics(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	path := filepath.Join(dir, "lock")
	l := New(path)
	if !l.TryAcquire() {
		t.Fatalf("TryAcquire failed on an unheld lock")
	}

	defer func() {
		r := recover()
		if r != ErrAlreadyLocked {
			t.Errorf("recover() = %v, want ErrAlreadyLocked", r)
		}
	}()
	l.TryAcquire()
	t.Fatal("TryAcquire on an already-held instance should panic, not return")
}

func TestReleaseNotOwner(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	path := filepath.Join(dir, "lock")
	if err := os.Symlink("1", path); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	if l.Release(false) {
		t.Errorf("Release succeeded on a lock we don't own")
	}
	if l.Owner() != 1 {
		t.Errorf("lock was modified despite failed release")
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	path := filepath.Join(dir, "lock")

	// Use a pid that is very unlikely to be alive: a freshly-exited child.
	stalePID := spawnAndWait(t)

	if err := os.Symlink(strconv.Itoa(stalePID), path); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	if !l.TryAcquire() {
		t.Fatalf("TryAcquire failed to reclaim a stale lock")
	}
	if got := l.Owner(); got != os.Getpid() {
		t.Errorf("Owner() = %d, want %d", got, os.Getpid())
	}
}

func TestAcquireTimeout(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	path := filepath.Join(dir, "lock")
	l := New(path)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}

	l2 := New(path)
	start := time.Now()
	if l2.Acquire(100*time.Millisecond, 10*time.Millisecond) {
		t.Errorf("Acquire succeeded against a live holder")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Acquire returned early after %v", elapsed)
	}
}

// spawnAndWait starts a trivial child process and waits for it to exit,
// returning its pid so tests can use it as a guaranteed-dead pid.
func spawnAndWait(t *testing.T) int {
	t.Helper()
	proc, err := os.StartProcess("/bin/true", []string{"true"}, &os.ProcAttr{})
	if err != nil {
		t.Skipf("could not spawn helper process: %v", err)
	}
	pid := proc.Pid
	if _, err := proc.Wait(); err != nil {
		t.Skipf("could not wait for helper process: %v", err)
	}
	return pid
}
