// ABOUTME: PooledConn wraps one checked-out connection record for scoped use.
// ABOUTME: Transport failures mark the record Closing; Release returns or discards it.

package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/coven-toolpool/internal/transport"
)

// PooledConn is a connection checked out of a pool. Exactly one caller
// holds it between Acquire and Release. Always release, typically with
// defer or through Manager.WithConn.
type PooledConn struct {
	pool     *Pool
	rec      *record // nil for unpooled fallback connections
	handle   transport.Handle
	fallback bool

	mu       sync.Mutex
	broken   bool
	released bool
}

// ID returns the connection record's ID, or "fallback" for unpooled
// connections.
func (c *PooledConn) ID() string {
	if c.rec == nil {
		return "fallback"
	}
	return c.rec.id
}

// Fallback reports whether this is a degraded one-shot connection created
// outside the pool.
func (c *PooledConn) Fallback() bool {
	return c.fallback
}

// Invoke executes a remote tool on the underlying connection. On transport
// failure the connection is marked broken (it will be discarded on
// Release, never re-pooled) and the error is surfaced unchanged. No
// retries happen here.
func (c *PooledConn) Invoke(ctx context.Context, tool string, args map[string]any) (*transport.Result, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	res, err := c.handle.Invoke(ctx, tool, args)
	if err != nil {
		c.markBroken()
	}
	return res, err
}

// ListCapabilities lists the target's tools. Failure semantics match Invoke.
func (c *PooledConn) ListCapabilities(ctx context.Context) ([]transport.Capability, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	caps, err := c.handle.ListCapabilities(ctx)
	if err != nil {
		c.markBroken()
	}
	return caps, err
}

// Release returns the connection to its pool, or discards it if it broke
// during use. Fallback connections are simply closed. Safe to call more
// than once; only the first call has effect.
func (c *PooledConn) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	broken := c.broken
	c.mu.Unlock()

	if c.rec == nil {
		_ = c.handle.Close()
		return
	}
	c.pool.release(c.rec, broken)
}

// usable rejects use after release.
func (c *PooledConn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("%w: connection already released", transport.ErrInvocation)
	}
	return nil
}

// markBroken flags the connection so Release discards it, and informs the
// breaker about the in-use failure.
func (c *PooledConn) markBroken() {
	c.mu.Lock()
	already := c.broken
	c.broken = true
	c.mu.Unlock()
	if already {
		return
	}

	if c.rec != nil {
		c.pool.mu.Lock()
		c.rec.state = stateClosing
		c.pool.mu.Unlock()
	}
	if c.pool != nil {
		c.pool.breaker.RecordFailure()
	}
}
