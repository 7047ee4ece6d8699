package xmpp

import (
	"testing"
	"time"
)

func newTestClient(t *testing.T, reconnectTimeout time.Duration) *client {
	t.Helper()
	return newClient(mustJID(t, "notifyd@example.org/daemon"), "secret",
		time.Minute, time.Second, reconnectTimeout)
}

func drained(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTriggerReconnectDebouncedWhileUnusable(t *testing.T) {
	c := newTestClient(t, time.Hour)
	c.setState(stateDisconnected)

	c.triggerReconnect()
	if !drained(c.reconnectCh) {
		t.Fatal("first trigger while unusable should fire")
	}

	c.triggerReconnect()
	if drained(c.reconnectCh) {
		t.Fatal("second trigger within reconnectTimeout while still unusable should be debounced")
	}
}

func TestTriggerReconnectNotDebouncedAfterWindow(t *testing.T) {
	c := newTestClient(t, time.Millisecond)
	c.setState(stateDisconnected)

	c.triggerReconnect()
	if !drained(c.reconnectCh) {
		t.Fatal("first trigger while unusable should fire")
	}

	time.Sleep(5 * time.Millisecond)

	c.triggerReconnect()
	if !drained(c.reconnectCh) {
		t.Fatal("trigger after reconnectTimeout has elapsed should fire again")
	}
}

func TestTriggerReconnectNotDebouncedWhenUsable(t *testing.T) {
	c := newTestClient(t, time.Hour)
	c.setState(stateUsable)

	c.triggerReconnect()
	if !drained(c.reconnectCh) {
		t.Fatal("first trigger while usable should fire")
	}

	// A second trigger while still usable (e.g. a failed ping) must not be
	// debounced: debounce only applies while the connection is unusable.
	c.triggerReconnect()
	if !drained(c.reconnectCh) {
		t.Fatal("trigger while usable should never be debounced")
	}
}

func TestBackoffReturnsFalseOnTerminate(t *testing.T) {
	c := newTestClient(t, time.Hour)

	done := make(chan bool, 1)
	go func() { done <- c.backoff() }()

	// Give backoff a moment to reach its select before terminating, then
	// confirm termination cancels the wait promptly instead of the full
	// min(10*attempts+rand(1..10), 120) second backoff.
	time.Sleep(10 * time.Millisecond)
	close(c.terminateCh)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("backoff should return false when terminated")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff did not observe termination promptly")
	}
}

func TestBackoffIgnoresReconnectTrigger(t *testing.T) {
	c := newTestClient(t, time.Hour)

	done := make(chan bool, 1)
	go func() { done <- c.backoff() }()

	time.Sleep(10 * time.Millisecond)
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}

	// A reconnect trigger must not cut the backoff sleep short; only
	// termination may. Confirm backoff is still waiting shortly after.
	select {
	case <-done:
		t.Fatal("backoff returned early on a reconnect trigger, it should only be cancellable by termination")
	case <-time.After(50 * time.Millisecond):
	}

	close(c.terminateCh)
	<-done
}
