// ABOUTME: Tests for the pool manager: lazy creation, fallback policy, lifecycle.
// ABOUTME: Uses the in-memory transport; leaktest verifies monitor goroutine cleanup.

package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-toolpool/internal/transport"
)

func newTestManager(t *testing.T, mem *transport.Memory, cfg Config) *Manager {
	t.Helper()
	m := NewManager(testLogger(), WithRegistry(transport.Registry{"memory": mem}))
	require.NoError(t, m.RegisterTarget("alpha", transport.Descriptor{Kind: "memory"}, cfg))
	return m
}

func TestManager_GetPool_LazyAndIdempotent(t *testing.T) {
	mem := transport.NewMemory()
	m := newTestManager(t, mem, testConfig())

	p1, err := m.GetPool("alpha")
	require.NoError(t, err)
	p2, err := m.GetPool("alpha")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 0, mem.OpenCount(), "pool creation must not open connections")
}

func TestManager_GetPool_UnknownTarget(t *testing.T) {
	m := newTestManager(t, transport.NewMemory(), testConfig())

	_, err := m.GetPool("nope")
	require.ErrorIs(t, err, ErrTargetNotFound)
}

func TestManager_GetPool_ConcurrentFirstUse(t *testing.T) {
	mem := transport.NewMemory()
	m := newTestManager(t, mem, testConfig())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		pools = make(map[*Pool]struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.GetPool("alpha")
			require.NoError(t, err)
			mu.Lock()
			pools[p] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, pools, 1, "concurrent first-use must create exactly one pool")
}

func TestManager_RegisterTarget_UnknownKind(t *testing.T) {
	m := NewManager(testLogger(), WithRegistry(transport.Registry{"memory": transport.NewMemory()}))

	err := m.RegisterTarget("alpha", transport.Descriptor{Kind: "carrier-pigeon"}, testConfig())
	require.ErrorIs(t, err, transport.ErrUnknownKind)
}

func TestManager_AcquireFor_FallbackWhenExhausted(t *testing.T) {
	mem := transport.NewMemory()
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 20 * time.Millisecond
	m := newTestManager(t, mem, cfg)

	held, err := m.AcquireFor(context.Background(), "alpha")
	require.NoError(t, err)
	defer held.Release()
	assert.False(t, held.Fallback())

	fb, err := m.AcquireFor(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, fb.Fallback())
	assert.Equal(t, "fallback", fb.ID())

	res, err := fb.Invoke(context.Background(), "echo", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	fb.Release()

	p, err := m.GetPool("alpha")
	require.NoError(t, err)
	snap := p.Stats()
	assert.Equal(t, int64(1), snap.Fallbacks)
	assert.Equal(t, int64(1), snap.CurrentSize, "fallback connections never join the pool")
	assert.Equal(t, 1, mem.LiveHandles(), "released fallback must be closed")
}

func TestManager_AcquireFor_FallbackWhenCircuitOpen(t *testing.T) {
	mem := transport.NewMemory()
	cfg := testConfig()
	cfg.BreakerFailureThreshold = 1
	m := newTestManager(t, mem, cfg)

	mem.FailOpens(1)
	_, err := m.AcquireFor(context.Background(), "alpha")
	require.ErrorIs(t, err, ErrConnectionCreation, "creation failure surfaces, no fallback")

	// Breaker is now open; the next acquire degrades to an unpooled
	// connection instead of failing fast to the caller.
	fb, err := m.AcquireFor(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, fb.Fallback())
	fb.Release()

	p, err := m.GetPool("alpha")
	require.NoError(t, err)
	assert.Equal(t, "open", p.Stats().BreakerState)
	assert.Equal(t, int64(1), p.Stats().Fallbacks)
}

func TestManager_WithConn_ReleasesOnAllPaths(t *testing.T) {
	mem := transport.NewMemory()
	m := newTestManager(t, mem, testConfig())

	sentinel := errors.New("tool blew up")
	err := m.WithConn(context.Background(), "alpha", func(c *PooledConn) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	p, err := m.GetPool("alpha")
	require.NoError(t, err)
	snap := p.Stats()
	assert.Equal(t, int64(0), snap.InUse)
	assert.Equal(t, int64(1), snap.CurrentSize)
}

func TestManager_StartStop_CleansUpGoroutines(t *testing.T) {
	defer leaktest.Check(t)()

	mem := transport.NewMemory()
	cfg := testConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	m := newTestManager(t, mem, cfg)

	m.Start()
	err := m.WithConn(context.Background(), "alpha", func(c *PooledConn) error {
		_, err := c.ListCapabilities(context.Background())
		return err
	})
	require.NoError(t, err)

	// Let the monitor run at least one cycle against the idle connection.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, 0, mem.LiveHandles())
}

func TestManager_SnapshotAll(t *testing.T) {
	mem := transport.NewMemory()
	m := newTestManager(t, mem, testConfig())
	require.NoError(t, m.RegisterTarget("beta", transport.Descriptor{Kind: "memory"}, testConfig()))

	for _, name := range []string{"alpha", "beta"} {
		conn, err := m.AcquireFor(context.Background(), name)
		require.NoError(t, err)
		conn.Release()
	}

	all := m.SnapshotAll()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all["alpha"].Misses)
	assert.Equal(t, int64(1), all["beta"].Misses)

	snap, ok := m.Snapshot("alpha")
	require.True(t, ok)
	assert.Equal(t, "closed", snap.BreakerState)

	_, ok = m.Snapshot("gamma")
	assert.False(t, ok)
}
