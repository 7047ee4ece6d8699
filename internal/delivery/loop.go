// Package delivery implements the single-worker Delivery Loop: the sole
// mutator of queue entries, tying together the queue, the retry policy,
// the transport registry, and a directory watcher.
package delivery

import (
	"fmt"
	"runtime/debug"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/CygnusNetworks/gonotifyd/internal/config"
	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/queue"
	"github.com/CygnusNetworks/gonotifyd/internal/retry"
	"github.com/CygnusNetworks/gonotifyd/internal/trace"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
	"github.com/CygnusNetworks/gonotifyd/internal/watcher"
)

// Loop is the single worker described in spec §4.3. Run blocks until
// Stop is called (or a fatal queue error occurs).
type Loop struct {
	q        *queue.Queue
	policy   retry.Policy
	registry *transport.Registry
	watcher  watcher.Watcher
	cfg      *config.Config

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Loop. The caller owns bringing up q, policy, registry and
// w (and their error handling); the Loop itself only ever fails fatally.
func New(q *queue.Queue, policy retry.Policy, registry *transport.Registry, w watcher.Watcher, cfg *config.Config) *Loop {
	return &Loop{
		q:        q,
		policy:   policy,
		registry: registry,
		watcher:  w,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run executes iterations until Stop is called. It returns only on a
// fatal queue I/O error (directory gone, permission lost) or after a
// graceful stop; the returned error is nil in the latter case.
func (l *Loop) Run() error {
	defer close(l.doneCh)

	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}

		stop, err := l.iterate()
		if stop {
			return err
		}
	}
}

// Stop requests the loop finish its current dispatch and return. It
// blocks until Run has actually returned, matching spec §4.3's shutdown
// contract ("finish the current dispatch... release the lock, exit").
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// iterate runs one step of the loop. The bool return says whether Run
// should stop (true on a fatal error or an explicit stop observed mid
// wait); the accompanying error is non-nil only on a fatal failure.
func (l *Loop) iterate() (stop bool, err error) {
	entry, ok, err := l.q.FindNext()
	if err != nil {
		return true, fmt.Errorf("delivery: fatal queue error: %w", err)
	}
	if !ok {
		return l.waitForWork(3600), nil
	}

	if wait := entry.Deadline - time.Now().Unix(); wait > 0 {
		return l.waitForWork(int(wait)), nil
	}

	step := l.policy.Resolve(entry.Step)
	if step.Kind == retry.GiveUp {
		log.Infof("delivery: entry %s gave up at step %d", entry, entry.Step)
		if err := l.q.Done(entry); err != nil {
			return true, fmt.Errorf("delivery: fatal queue error completing given-up entry: %w", err)
		}
		return false, nil
	}
	if step.Kind != retry.Provider {
		// Resolve only ever returns Wait during Advance's own internal walk;
		// FindNext/Advance never leave an entry sitting on a Wait step.
		log.Errorf("delivery: entry %s resolved to unexpected step kind %s, treating as give-up", entry, step.Kind)
		if err := l.q.Done(entry); err != nil {
			return true, fmt.Errorf("delivery: fatal queue error completing malformed entry: %w", err)
		}
		return false, nil
	}

	l.dispatch(entry, step)
	return false, nil
}

// dispatch sends one entry through the resolved provider and advances (or
// completes) it according to the outcome.
func (l *Loop) dispatch(entry queue.Entry, step retry.Step) {
	contact, body, err := l.q.GetContents(entry)
	if err != nil {
		log.Errorf("delivery: failed to read %s: %v, dropping", entry, err)
		if derr := l.q.Done(entry); derr != nil {
			log.Errorf("delivery: failed to drop unreadable entry %s: %v", entry, derr)
		}
		return
	}

	t, ok := l.registry.Get(step.ProviderName)
	if !ok {
		// Should not happen: startup refuses a policy that names a provider
		// the registry did not start. Treat as permanent so the entry keeps moving.
		log.Errorf("delivery: provider %q for entry %s not started, skipping", step.ProviderName, entry)
		l.advance(entry, true)
		return
	}

	tr := trace.New("delivery.Dispatch", entry.String())
	defer tr.Finish()
	tr.Printf("provider=%s contact=%s", step.ProviderName, contact)

	recipient := l.cfg.Recipient(contact)
	sendErr := l.safeSend(t, recipient, body)

	switch {
	case sendErr == nil:
		tr.Printf("delivered")
		if err := l.q.Done(entry); err != nil {
			log.Errorf("delivery: failed to complete %s after successful send: %v", entry, err)
		}
	case notifyerr.IsFatal(sendErr):
		tr.Errorf("fatal error: %v", sendErr)
		log.Fatalf("delivery: fatal error from provider %q: %v", step.ProviderName, sendErr)
	case notifyerr.IsPermanent(sendErr):
		tr.Errorf("permanent failure: %v", sendErr)
		log.Errorf("delivery: %s via %q: permanent failure: %v", entry, step.ProviderName, sendErr)
		l.advance(entry, true)
	default:
		tr.Errorf("temporary failure: %v", sendErr)
		log.Errorf("delivery: %s via %q: temporary failure: %v", entry, step.ProviderName, sendErr)
		l.advance(entry, false)
	}
}

// safeSend recovers a panicking transport and demotes it to an
// unclassified (temporary) failure, matching spec §7's "unknown
// exceptions from a transport are demoted to Temporary and logged with a
// stack trace".
func (l *Loop) safeSend(t transport.Transport, recipient map[string]string, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("delivery: provider panicked: %v\n%s", r, debug.Stack())
			err = notifyerr.Temp(fmt.Errorf("provider panicked: %v", r))
		}
	}()
	return t.Send(recipient, body)
}

func (l *Loop) advance(entry queue.Entry, fast bool) {
	if _, err := l.q.Advance(entry, l.policy, fast); err != nil {
		log.Errorf("delivery: failed to advance %s: %v", entry, err)
	}
}

// waitForWork blocks in the watcher for up to maxSeconds, then reports
// whether Run should stop (a Stop request arrived during the wait).
func (l *Loop) waitForWork(maxSeconds int) bool {
	done := make(chan struct{})
	go func() {
		l.watcher.Wait(maxSeconds)
		close(done)
	}()

	select {
	case <-l.stopCh:
		return true
	case <-done:
		select {
		case <-l.stopCh:
			return true
		default:
			return false
		}
	}
}
