// ABOUTME: Manager owns the per-target pool map and the pool lifecycle.
// ABOUTME: Lazy race-free pool creation, unpooled fallback, health monitor ownership.

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/2389/coven-toolpool/internal/breaker"
	"github.com/2389/coven-toolpool/internal/health"
	"github.com/2389/coven-toolpool/internal/metrics"
	"github.com/2389/coven-toolpool/internal/transport"
)

// target pairs a transport descriptor with the resolved pool config for
// one named server.
type target struct {
	desc transport.Descriptor
	cfg  Config
}

// Manager maintains one pool per registered target. The pool map is a
// sharded concurrent map, so acquires against target A never contend with
// acquires against target B.
type Manager struct {
	registry transport.Registry
	logger   *slog.Logger
	clock    breaker.Clock

	targets cmap.ConcurrentMap[string, target]
	pools   cmap.ConcurrentMap[string, *Pool]

	mu       sync.Mutex
	started  bool
	monitors map[string]*health.Monitor
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock injects a clock into every pool the manager creates.
func WithManagerClock(c breaker.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithRegistry replaces the transport registry, letting tests swap in a
// scriptable in-memory transport.
func WithRegistry(r transport.Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// NewManager creates a manager with no targets registered.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: transport.DefaultRegistry(),
		logger:   logger,
		clock:    sysClock{},
		targets:  cmap.New[target](),
		pools:    cmap.New[*Pool](),
		monitors: make(map[string]*health.Monitor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterTarget makes a named server acquirable. cfg is the fully
// resolved per-target configuration (global defaults plus overrides).
// Re-registering a name replaces its descriptor for future pools but does
// not touch an already-created pool.
func (m *Manager) RegisterTarget(name string, desc transport.Descriptor, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("target %s: %w", name, err)
	}
	if _, ok := m.registry[desc.Kind]; !ok {
		return fmt.Errorf("target %s: %q: %w", name, desc.Kind, transport.ErrUnknownKind)
	}
	m.targets.Set(name, target{desc: desc, cfg: cfg})
	return nil
}

// Targets returns the registered target names.
func (m *Manager) Targets() []string {
	return m.targets.Keys()
}

// GetPool returns the pool for a target, creating it on first use. Under
// concurrent first-use exactly one pool is created; the losers observe the
// winner's pool and their own candidate is discarded before it opened any
// connections.
func (m *Manager) GetPool(name string) (*Pool, error) {
	if p, ok := m.pools.Get(name); ok {
		return p, nil
	}

	t, ok := m.targets.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTargetNotFound)
	}
	tr := m.registry[t.desc.Kind]

	p, err := New(name, t.desc, t.cfg, tr, m.logger, WithClock(m.clock))
	if err != nil {
		return nil, err
	}
	if !m.pools.SetIfAbsent(name, p) {
		existing, _ := m.pools.Get(name)
		return existing, nil
	}

	m.logger.Info("created connection pool",
		"target", name,
		"kind", t.desc.Kind,
		"max_size", t.cfg.MaxSize,
	)
	if t.cfg.MinSize > 0 {
		go p.Warm(context.Background())
	}
	m.maybeStartMonitor(name, p)
	return p, nil
}

// maybeStartMonitor starts a health monitor for p if the manager is
// running and the pool does not have one yet.
func (m *Manager) maybeStartMonitor(name string, p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	if _, ok := m.monitors[name]; ok {
		return
	}
	if p.cfg.HealthCheckInterval <= 0 {
		return
	}
	mon := health.NewMonitor(p, p.cfg.HealthCheckInterval, m.logger)
	mon.Start()
	m.monitors[name] = mon
}

// AcquireFor checks a connection out of the target's pool using the
// pool's configured acquire timeout. When the pool is exhausted or its
// breaker is open, the manager degrades to a single unpooled connection,
// used once and discarded, so the caller keeps availability at the cost
// of pooling.
func (m *Manager) AcquireFor(ctx context.Context, name string) (*PooledConn, error) {
	p, err := m.GetPool(name)
	if err != nil {
		return nil, err
	}

	conn, aerr := p.Acquire(ctx, p.cfg.AcquireTimeout)
	if aerr == nil {
		return conn, nil
	}
	if !errors.Is(aerr, ErrPoolExhausted) && !errors.Is(aerr, ErrCircuitOpen) {
		return nil, aerr
	}

	t, _ := m.targets.Get(name)
	tr := m.registry[t.desc.Kind]

	dctx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	h, derr := tr.Open(dctx, t.desc)
	if derr != nil {
		p.stats.ConnectionErrors.Add(1)
		return nil, fmt.Errorf("%w: unpooled fallback for %s: %v (after %v)", ErrConnectionCreation, name, derr, aerr)
	}

	p.stats.Fallbacks.Add(1)
	m.logger.Warn("serving unpooled fallback connection", "target", name, "cause", aerr)
	return &PooledConn{handle: h, fallback: true}, nil
}

// WithConn acquires a connection for the target, runs fn with it, and
// guarantees release on every exit path including panics.
func (m *Manager) WithConn(ctx context.Context, name string, fn func(*PooledConn) error) error {
	conn, err := m.AcquireFor(ctx, name)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// Start begins background maintenance: health monitors for every existing
// pool, plus monitors for pools created later. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for item := range m.pools.IterBuffered() {
		m.maybeStartMonitor(item.Key, item.Val)
	}
	m.logger.Info("pool manager started",
		"targets", m.targets.Count(),
		"pools", m.pools.Count(),
	)
}

// Stop halts all health monitors, then drains and closes every pool.
// In-use connections get until ctx expires to be released before they are
// force-closed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.started = false
	monitors := m.monitors
	m.monitors = make(map[string]*health.Monitor)
	m.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
	return m.ShutdownAll(ctx)
}

// ShutdownAll shuts down every pool and empties the pool map. The first
// error is returned; shutdown still proceeds across all pools.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	var firstErr error
	for item := range m.pools.IterBuffered() {
		if err := item.Val.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.pools.Remove(item.Key)
	}
	m.logger.Info("all pools shut down")
	return firstErr
}

// Snapshot implements metrics.Source for one target's pool. The second
// return is false when no pool exists yet for the name.
func (m *Manager) Snapshot(name string) (metrics.Snapshot, bool) {
	p, ok := m.pools.Get(name)
	if !ok {
		return metrics.Snapshot{}, false
	}
	return p.Stats(), true
}

// SnapshotAll implements metrics.Source across every live pool.
func (m *Manager) SnapshotAll() map[string]metrics.Snapshot {
	out := make(map[string]metrics.Snapshot, m.pools.Count())
	for item := range m.pools.IterBuffered() {
		out[item.Key] = item.Val.Stats()
	}
	return out
}
