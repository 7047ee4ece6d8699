package xmpp

import (
	"context"
	"sync"
	"time"
)

// pingChecker remembers the last successful XEP-0199 ping so a burst of
// outbound messages doesn't re-probe the connection for each one. The
// actual ping RPC is injected as a closure so this can be tested without
// a live session.
type pingChecker struct {
	mu      sync.Mutex
	last    time.Time
	maxAge  time.Duration
	timeout time.Duration
}

func newPingChecker(maxAge, timeout time.Duration) *pingChecker {
	return &pingChecker{maxAge: maxAge, timeout: timeout}
}

// healthy runs (or reuses) ping and reports whether the session is
// currently usable. A ping that errors or times out means the connection
// is dead even though Serve hasn't noticed yet.
func (c *pingChecker) healthy(ctx context.Context, ping func(context.Context) error) bool {
	c.mu.Lock()
	fresh := c.maxAge > 0 && time.Since(c.last) < c.maxAge
	c.mu.Unlock()
	if fresh {
		return true
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := ping(pctx); err != nil {
		return false
	}

	c.mu.Lock()
	c.last = time.Now()
	c.mu.Unlock()
	return true
}

func (c *pingChecker) reset() {
	c.mu.Lock()
	c.last = time.Time{}
	c.mu.Unlock()
}
