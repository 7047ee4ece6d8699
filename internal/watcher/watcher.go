// Package watcher blocks the delivery loop until there is reason to
// believe the queue directory changed, so it doesn't have to poll.
package watcher

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"blitiri.com.ar/go/log"
)

// Watcher blocks the caller until the queue directory sees a move-in
// event, a wakeup signal arrives, or maxSeconds elapses, whichever first.
type Watcher interface {
	Wait(maxSeconds int)
	Close() error
}

const defaultMaxWait = 3600 * time.Second

// SignalWatcher is the fallback implementation: a plain interruptible
// sleep. SIGUSR1 is the wakeup signal; the handler does nothing on its
// own, it exists purely to interrupt the wait.
type SignalWatcher struct {
	maxWait time.Duration
	sigCh   chan os.Signal

	once sync.Once
}

// NewSignalWatcher installs a SIGUSR1 handler and returns a watcher
// backed by it. maxWait bounds every Wait call regardless of the
// maxSeconds argument passed to it.
func NewSignalWatcher(maxWait time.Duration) *SignalWatcher {
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	w := &SignalWatcher{
		maxWait: maxWait,
		sigCh:   make(chan os.Signal, 1),
	}
	signal.Notify(w.sigCh, syscall.SIGUSR1)
	return w
}

func (w *SignalWatcher) Wait(maxSeconds int) {
	wait := w.maxWait
	if maxSeconds > 0 && time.Duration(maxSeconds)*time.Second < wait {
		wait = time.Duration(maxSeconds) * time.Second
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-w.sigCh:
	case <-timer.C:
	}
}

// Close stops receiving the wakeup signal. Idempotent.
func (w *SignalWatcher) Close() error {
	w.once.Do(func() {
		signal.Stop(w.sigCh)
	})
	return nil
}

// InotifyWatcher watches the queue directory for IN_MOVED_TO-equivalent
// events (fsnotify.Create, since the commit rename lands as a create from
// the watched directory's point of view) in addition to the same
// SIGUSR1/timeout fallback SignalWatcher provides, since inotify alone
// can't be interrupted by a signal.
type InotifyWatcher struct {
	fsw     *fsnotify.Watcher
	signals *SignalWatcher
}

// NewInotifyWatcher starts watching dir. Falls back to the caller
// receiving an error if dir cannot be watched (missing, no permission);
// callers should fall back to NewSignalWatcher in that case.
func NewInotifyWatcher(dir string, maxWait time.Duration) (*InotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &InotifyWatcher{
		fsw:     fsw,
		signals: NewSignalWatcher(maxWait),
	}, nil
}

func (w *InotifyWatcher) Wait(maxSeconds int) {
	wait := w.signals.maxWait
	if maxSeconds > 0 && time.Duration(maxSeconds)*time.Second < wait {
		wait = time.Duration(maxSeconds) * time.Second
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				return
			}
			// Other events (e.g. chmod on unrelated files) don't warrant
			// waking the loop; keep waiting out the remaining budget.
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("watcher: inotify error: %v", err)
			return
		case <-w.signals.sigCh:
			return
		case <-timer.C:
			return
		}
	}
}

func (w *InotifyWatcher) Close() error {
	w.signals.Close()
	return w.fsw.Close()
}
