package xmpp

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/dial"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/mux"
	"mellium.im/xmpp/roster"
	"mellium.im/xmpp/stanza"

	"blitiri.com.ar/go/log"
)

type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateUsable
	stateReconnectWait
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateUsable:
		return "usable"
	case stateReconnectWait:
		return "reconnect_wait"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const idleTimeout = 60 * time.Second

// client owns the single long-lived XMPP session: dial, authenticate,
// request roster, then serve stanzas until the stream dies, reconnecting
// with backoff in between. Everything exported to the transport wrapper
// (Send) goes through usable/snapshotSession/triggerReconnect.
type client struct {
	self     jid.JID
	password string

	state int32 // connState, atomic

	mu      sync.Mutex // guards session and lastReconnect; "the connection lock"
	session *xmpp.Session

	presence *presenceTable
	pinger   *pingChecker

	reconnectTimeout time.Duration
	reconnectCh      chan struct{}
	lastReconnect    time.Time
	attempts         int

	terminateCh chan struct{}
	terminated  sync.Once
	wg          sync.WaitGroup
}

func newClient(self jid.JID, password string, pingMaxAge, pingTimeout, reconnectTimeout time.Duration) *client {
	c := &client{
		self:             self,
		password:         password,
		presence:         newPresenceTable(),
		pinger:           newPingChecker(pingMaxAge, pingTimeout),
		reconnectTimeout: reconnectTimeout,
		reconnectCh:      make(chan struct{}, 1),
		terminateCh:      make(chan struct{}),
	}
	atomic.StoreInt32(&c.state, int32(stateDisconnected))
	return c
}

func (c *client) start() {
	c.wg.Add(1)
	go c.run()
}

func (c *client) setState(s connState) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *client) getState() connState {
	return connState(atomic.LoadInt32(&c.state))
}

func (c *client) usable() bool {
	return c.getState() == stateUsable
}

// snapshotSession returns the current session under the connection lock, or
// nil if there isn't one usable right now.
func (c *client) snapshotSession() *xmpp.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getState() != stateUsable {
		return nil
	}
	return c.session
}

// triggerReconnect asks the background goroutine to reconnect, debounced:
// a trigger that arrives within reconnectTimeout of the last attempt while
// the connection is still unusable is dropped, since the background
// goroutine is presumably already mid-reconnect or backing off.
func (c *client) triggerReconnect() {
	c.mu.Lock()
	if c.getState() != stateUsable && time.Since(c.lastReconnect) < c.reconnectTimeout {
		c.mu.Unlock()
		return
	}
	c.lastReconnect = time.Now()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *client) terminate() {
	c.terminated.Do(func() {
		c.setState(stateTerminated)
		close(c.terminateCh)
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()
		if session != nil {
			session.Close()
		}
	})
	c.wg.Wait()
}

// run is the background session goroutine: connect, serve stanzas until
// the stream breaks, wait out a reconnect backoff, repeat. Exits only when
// terminate() has been called.
func (c *client) run() {
	defer c.wg.Done()

	for {
		if c.getState() == stateTerminated {
			return
		}

		session, err := c.connect()
		if err != nil {
			log.Errorf("xmpp: connect failed: %v", err)
			if !c.backoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.session = session
		c.attempts = 0
		c.mu.Unlock()
		c.setState(stateUsable)
		log.Infof("xmpp: session established as %s", c.self)

		err = session.Serve(c.handler())
		c.presence.clear()
		c.pinger.reset()
		if c.getState() == stateTerminated {
			return
		}
		log.Errorf("xmpp: session ended: %v", err)
		c.setState(stateDisconnected)

		if !c.backoff() {
			return
		}
	}
}

// backoff waits min(10*attempts + rand(1..10), 120) seconds. The wait is
// cancellable only by termination, not by reconnect triggers -- triggers
// arriving during this wait are exactly what triggerReconnect's debounce
// window is meant to absorb, so honoring reconnectCh here would defeat
// the escalating backoff entirely. Returns false if termination happened
// during the wait.
func (c *client) backoff() bool {
	c.setState(stateReconnectWait)
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	wait := 10*attempts + 1 + rand.Intn(10)
	if wait > 120 {
		wait = 120
	}

	// Drain any trigger queued while we were usable/connecting, so it
	// doesn't cause an immediate extra reconnect right after this wait.
	select {
	case <-c.reconnectCh:
	default:
	}

	timer := time.NewTimer(time.Duration(wait) * time.Second)
	defer timer.Stop()
	select {
	case <-c.terminateCh:
		return false
	case <-timer.C:
		return true
	}
}

func (c *client) connect() (*xmpp.Session, error) {
	c.setState(stateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := dial.Client(ctx, "tcp", c.self)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	session, err := xmpp.NewSession(
		ctx, c.self.Domain(), c.self, conn,
		0,
		xmpp.NewNegotiator(func(*xmpp.Session, *xmpp.StreamConfig) xmpp.StreamConfig {
			return xmpp.StreamConfig{
				Features: []xmpp.StreamFeature{
					xmpp.StartTLS(&tls.Config{ServerName: c.self.Domain().String()}),
					xmpp.SASL("", c.password, sasl.Plain),
					xmpp.BindResource(),
				},
			}
		}),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("negotiate: %w", err)
	}

	if _, err := roster.Fetch(ctx, session); err != nil {
		session.Close()
		return nil, fmt.Errorf("roster fetch: %w", err)
	}

	if err := session.Send(ctx, stanza.Presence{Type: stanza.AvailablePresence}.Wrap(nil)); err != nil {
		session.Close()
		return nil, fmt.Errorf("initial presence: %w", err)
	}

	return session, nil
}

// handler wires inbound presence and message stanzas into the presence
// table and command handling. Serve blocks reading from this mux with an
// idle timeout of its own devising; nothing here needs to poll.
func (c *client) handler() *mux.ServeMux {
	return mux.New(
		mux.Presence("available", "", mux.HandlerFunc(c.handlePresence)),
		mux.Presence("unavailable", "", mux.HandlerFunc(c.handlePresenceUnavailable)),
		mux.Message("normal", "", mux.HandlerFunc(c.handleMessage)),
		mux.Message("chat", "", mux.HandlerFunc(c.handleMessage)),
	)
}
