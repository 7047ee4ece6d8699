// Package processlock implements a single-holder advisory lock over a
// path, using atomic symlink creation with stale-owner detection by
// liveness probe.
//
// Ported from pynotifyd's processlock.ProcessLock: the lock is a symlink
// whose target text is the holder's decimal pid. Creating a symlink is
// atomic, so two processes racing to acquire the lock can never both
// succeed.
package processlock

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
)

// Lock represents exclusive ownership of a path by at most one live
// process.
type Lock struct {
	path  string
	myPID int
	held  bool
}

// New returns a Lock for the given path. It does not attempt to acquire
// anything yet.
func New(path string) *Lock {
	return &Lock{path: path, myPID: os.Getpid()}
}

// Owner returns the pid of the process owning the lock, or 0 if the lock
// is not held (or its target cannot be parsed as a pid).
func (l *Lock) Owner() int {
	target, err := os.Readlink(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(target)
	if err != nil {
		return 0
	}
	return pid
}

// alive reports whether pid refers to a running process, using a zero
// signal the same way the Python implementation uses os.kill(pid, 0).
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On POSIX systems, sending signal 0 performs error checking (does the
	// process exist, do we have permission) without actually delivering a
	// signal.
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but we can't signal it - still alive.
	return err == syscall.EPERM
}

// TryAcquire attempts to create the lock. On collision, it reads the
// current owner, probes it, and if the owner is dead, unlinks the stale
// link and retries once. Returns false if the lock is held by someone
// else. Calling TryAcquire again on a Lock that this same instance
// already holds is a programming error, not ordinary contention, and
// panics with ErrAlreadyLocked rather than returning false.
func (l *Lock) TryAcquire() bool {
	if l.held {
		panic(ErrAlreadyLocked)
	}
	if l.tryAcquire(true) {
		l.held = true
		return true
	}
	return false
}

func (l *Lock) tryAcquire(handleStale bool) bool {
	target := strconv.Itoa(l.myPID)
	err := os.Symlink(target, l.path)
	if err == nil {
		return true
	}
	if !os.IsExist(err) || !handleStale {
		return false
	}

	owner := l.Owner()
	if owner == 0 {
		return false
	}
	if alive(owner) {
		return false
	}

	// owner is a non-existent pid: stale lock, clean it up and retry once.
	if err := os.Remove(l.path); err != nil {
		return false
	}
	return l.tryAcquire(false)
}

// Acquire polls TryAcquire until it succeeds, timeout elapses, or (if
// timeout is zero) forever.
func (l *Lock) Acquire(timeout, interval time.Duration) bool {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if l.TryAcquire() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// Release unlinks the lock, but only if its current target still matches
// our pid, unless force is set. Returns false if the lock wasn't ours (and
// not forced), or if the unlink failed.
func (l *Lock) Release(force bool) bool {
	if !force && l.Owner() != l.myPID {
		return false
	}
	if err := os.Remove(l.path); err != nil {
		return false
	}
	l.held = false
	return true
}

// ErrAlreadyLocked is a programming-error indication: Acquire was called
// on a Lock that this same instance already believes it holds.
var ErrAlreadyLocked = fmt.Errorf("processlock: already locked by this instance")
