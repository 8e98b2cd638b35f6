// ABOUTME: Bounded connection pool for one target tool server.
// ABOUTME: Checkout/checkin with breaker-gated creation, waiter queue, reaping, shutdown.

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-toolpool/internal/breaker"
	"github.com/2389/coven-toolpool/internal/metrics"
	"github.com/2389/coven-toolpool/internal/transport"
)

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

// Pool owns a bounded set of connections to exactly one target server.
// All record state transitions happen under mu, so a claim (idle -> in-use)
// is atomic with respect to concurrent acquires and the reaper.
type Pool struct {
	target  string
	desc    transport.Descriptor
	cfg     Config
	tr      transport.Transport
	breaker *breaker.Breaker
	stats   *metrics.PoolStats
	logger  *slog.Logger
	clock   breaker.Clock

	mu       sync.Mutex
	records  map[string]*record
	idle     []*record // claim order: newest from the back, probe oldest from the front
	creating int       // in-flight creations, counted against MaxSize
	waiters  []chan *record
	closed   bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock injects a clock for the pool and its breaker, used by tests to
// control idle expiry and breaker recovery deterministically.
func WithClock(c breaker.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// New creates a pool for the given target. No connections are opened until
// Acquire or Warm.
func New(target string, desc transport.Descriptor, cfg Config, tr transport.Transport, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pool %s: %w", target, err)
	}

	p := &Pool{
		target:  target,
		desc:    desc,
		cfg:     cfg,
		tr:      tr,
		stats:   &metrics.PoolStats{},
		logger:  logger,
		clock:   sysClock{},
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = breaker.New(target, cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout, logger, breaker.WithClock(p.clock))
	return p, nil
}

// Name returns the target name this pool serves.
func (p *Pool) Name() string { return p.target }

// Config returns the pool's immutable configuration.
func (p *Pool) Config() Config { return p.cfg }

// Acquire checks a connection out of the pool. The order is fixed: an idle
// connection is claimed first (a hit); otherwise a new one is created when
// below MaxSize, gated by the circuit breaker (a miss); otherwise the
// caller waits up to timeout for a release. A timeout of zero or less means
// "do not wait for a release"; creation, when taken, still runs to its own
// completion.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", p.target, ErrPoolClosed)
	}

	if r := p.claimIdleLocked(); r != nil {
		p.mu.Unlock()
		p.stats.Hits.Add(1)
		return &PooledConn{pool: p, rec: r, handle: r.handle}, nil
	}

	if len(p.records)+p.creating < p.cfg.MaxSize {
		if !p.breaker.Allow() {
			p.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", p.target, ErrCircuitOpen)
		}
		p.creating++
		p.mu.Unlock()
		return p.createAndClaim(ctx, timeout)
	}

	if timeout <= 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: at capacity (%d): %w", p.target, p.cfg.MaxSize, ErrPoolExhausted)
	}

	w := make(chan *record, 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, ok := <-w:
		if !ok {
			return nil, fmt.Errorf("%s: %w", p.target, ErrPoolClosed)
		}
		p.stats.Hits.Add(1)
		return &PooledConn{pool: p, rec: r, handle: r.handle}, nil

	case <-timer.C:
		if r := p.abandonWait(w); r != nil {
			// A release won the race with the timer; take the connection.
			p.stats.Hits.Add(1)
			return &PooledConn{pool: p, rec: r, handle: r.handle}, nil
		}
		return nil, fmt.Errorf("%s: no connection released within %s: %w", p.target, timeout, ErrPoolExhausted)

	case <-ctx.Done():
		if r := p.abandonWait(w); r != nil {
			p.release(r, false)
		}
		return nil, fmt.Errorf("%s: acquire canceled: %w", p.target, ctx.Err())
	}
}

// claimIdleLocked atomically claims the most recently used idle record.
// Must be called with mu held.
func (p *Pool) claimIdleLocked() *record {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	r := p.idle[n-1]
	p.idle = p.idle[:n-1]
	r.state = stateInUse
	r.lastUsedAt = p.clock.Now()
	p.stats.InUse.Add(1)
	return r
}

// abandonWait removes w from the waiter queue. When a releaser already
// popped the waiter, its record was sent (or the channel closed) under the
// pool lock, so receiving here cannot block; the record is returned to the
// caller to resolve the race.
func (p *Pool) abandonWait(w chan *record) *record {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()

	if r, ok := <-w; ok {
		return r
	}
	return nil
}

type createResult struct {
	rec *record
	err error
}

// createAndClaim opens a new connection in a detached goroutine so that the
// caller's timeout cannot kill an attempt that is about to succeed. An
// abandoned creation parks its connection in the idle set.
func (p *Pool) createAndClaim(ctx context.Context, timeout time.Duration) (*PooledConn, error) {
	done := make(chan createResult, 1)

	go func() {
		h, err := p.dialWithRetry()
		if err != nil {
			p.mu.Lock()
			p.creating--
			p.mu.Unlock()
			// One failure for the whole attempt, not one per retry.
			p.breaker.RecordFailure()
			p.stats.ConnectionErrors.Add(1)
			done <- createResult{err: err}
			return
		}
		p.breaker.RecordSuccess()

		p.mu.Lock()
		p.creating--
		if p.closed {
			p.mu.Unlock()
			_ = h.Close()
			done <- createResult{err: fmt.Errorf("%s: %w", p.target, ErrPoolClosed)}
			return
		}
		r := newRecord(h, p.clock.Now(), stateInUse)
		p.records[r.id] = r
		p.stats.CurrentSize.Store(int64(len(p.records)))
		p.stats.InUse.Add(1)
		p.mu.Unlock()
		done <- createResult{rec: r}
	}()

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		p.stats.Misses.Add(1)
		return &PooledConn{pool: p, rec: res.rec, handle: res.rec.handle}, nil

	case <-expire:
		go p.parkAbandonedCreate(done)
		return nil, fmt.Errorf("%s: connection not ready within %s: %w", p.target, timeout, ErrPoolExhausted)

	case <-ctx.Done():
		go p.parkAbandonedCreate(done)
		return nil, fmt.Errorf("%s: acquire canceled: %w", p.target, ctx.Err())
	}
}

// parkAbandonedCreate waits out a creation whose caller gave up. A
// successful connection is returned to the pool rather than discarded.
func (p *Pool) parkAbandonedCreate(done <-chan createResult) {
	res := <-done
	if res.err != nil {
		return
	}
	p.logger.Debug("parking connection from abandoned acquire",
		"target", p.target,
		"conn_id", res.rec.id,
	)
	p.release(res.rec, false)
}

// dialWithRetry attempts to open a connection up to RetryAttempts times
// with exponential backoff, each try bounded by ConnectTimeout. It runs on
// a background context: the attempt belongs to the pool, not to any single
// caller.
func (p *Pool) dialWithRetry() (transport.Handle, error) {
	var lastErr error
	delay := p.cfg.RetryBaseDelay

	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(delay)
			delay *= 2
		}

		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if p.cfg.ConnectTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		}
		h, err := p.tr.Open(ctx, p.desc)
		cancel()
		if err == nil {
			return h, nil
		}
		lastErr = err
		p.logger.Debug("connection attempt failed",
			"target", p.target,
			"attempt", attempt,
			"of", p.cfg.RetryAttempts,
			"error", err,
		)
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectionCreation, p.target, p.cfg.RetryAttempts, lastErr)
}

// release returns a record to the pool. Broken or closing records are
// destroyed; otherwise the record is handed to the oldest waiter or parked
// idle. Called by PooledConn.Release and by internal paths that hold a
// claimed record.
func (p *Pool) release(r *record, broken bool) {
	p.mu.Lock()
	if broken || r.state == stateClosing || p.closed {
		p.removeLocked(r)
		p.mu.Unlock()
		p.stats.InUse.Add(-1)
		_ = r.handle.Close()
		return
	}

	r.lastUsedAt = p.clock.Now()

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		// Buffered send under the lock: ownership transfers directly and
		// the record never touches the idle set.
		w <- r
		p.mu.Unlock()
		return
	}

	r.state = stateIdle
	p.idle = append(p.idle, r)
	p.mu.Unlock()
	p.stats.InUse.Add(-1)
}

// removeLocked takes a record out of the pool. Must be called with mu held;
// the caller closes the handle.
func (p *Pool) removeLocked(r *record) {
	r.state = stateClosing
	delete(p.records, r.id)
	for i, cand := range p.idle {
		if cand == r {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.stats.CurrentSize.Store(int64(len(p.records)))
}

// ReapExpired removes idle records whose idle time reached MaxIdle. The
// same claim-before-destroy discipline as Acquire makes this safe against
// concurrent checkouts. Returns the number of records reaped.
func (p *Pool) ReapExpired() int {
	if p.cfg.MaxIdle <= 0 {
		return 0
	}
	now := p.clock.Now()

	p.mu.Lock()
	var expired []*record
	keep := p.idle[:0]
	for _, r := range p.idle {
		if now.Sub(r.lastUsedAt) >= p.cfg.MaxIdle {
			r.state = stateClosing
			delete(p.records, r.id)
			expired = append(expired, r)
		} else {
			keep = append(keep, r)
		}
	}
	p.idle = keep
	p.stats.CurrentSize.Store(int64(len(p.records)))
	p.mu.Unlock()

	for _, r := range expired {
		_ = r.handle.Close()
		p.logger.Debug("reaped idle connection",
			"target", p.target,
			"conn_id", r.id,
			"idle_for", now.Sub(r.lastUsedAt),
		)
	}
	return len(expired)
}

// ProbeIdle claims at most one idle record, the stalest, and issues a
// lightweight list-capabilities probe against it. A failed probe discards
// the record and informs the breaker; a successful probe returns it to the
// idle set.
func (p *Pool) ProbeIdle(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || len(p.idle) == 0 {
		p.mu.Unlock()
		return nil
	}
	r := p.idle[0]
	p.idle = p.idle[1:]
	r.state = stateInUse
	p.mu.Unlock()
	p.stats.InUse.Add(1)

	if _, err := r.handle.ListCapabilities(ctx); err != nil {
		p.mu.Lock()
		r.checkFailures++
		failures := r.checkFailures
		p.mu.Unlock()

		p.stats.HealthCheckFailures.Add(1)
		p.breaker.RecordFailure()
		p.release(r, true)
		return fmt.Errorf("health probe failed on %s (conn %s, failures %d): %w", p.target, r.id, failures, err)
	}

	p.breaker.RecordSuccess()
	p.release(r, false)
	return nil
}

// Warm creates idle connections until the pool holds MinSize. Failures stop
// the warm-up; the pool still works, it just starts cold.
func (p *Pool) Warm(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		if p.closed || len(p.records)+p.creating >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		if !p.breaker.Allow() {
			p.mu.Unlock()
			return
		}
		p.creating++
		p.mu.Unlock()

		h, err := p.dialWithRetry()
		if err != nil {
			p.mu.Lock()
			p.creating--
			p.mu.Unlock()
			p.breaker.RecordFailure()
			p.stats.ConnectionErrors.Add(1)
			p.logger.Warn("warm-up connection failed", "target", p.target, "error", err)
			return
		}
		p.breaker.RecordSuccess()

		p.mu.Lock()
		p.creating--
		if p.closed {
			p.mu.Unlock()
			_ = h.Close()
			return
		}
		r := newRecord(h, p.clock.Now(), stateIdle)
		p.records[r.id] = r
		p.idle = append(p.idle, r)
		p.stats.CurrentSize.Store(int64(len(p.records)))
		p.mu.Unlock()
	}
}

// Shutdown closes the pool: waiters fail immediately, idle connections
// close now, and in-use connections drain as they are released. When ctx
// expires first, the stragglers are force-closed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	waiters := p.waiters
	p.waiters = nil

	var idleHandles []transport.Handle
	for _, r := range p.idle {
		r.state = stateClosing
		delete(p.records, r.id)
		idleHandles = append(idleHandles, r.handle)
	}
	p.idle = nil
	p.stats.CurrentSize.Store(int64(len(p.records)))
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, h := range idleHandles {
		_ = h.Close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		remaining := len(p.records)
		p.mu.Unlock()
		if remaining == 0 {
			p.logger.Info("pool shut down", "target", p.target)
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return p.forceClose()
		}
	}
}

// forceClose destroys every remaining record regardless of state.
func (p *Pool) forceClose() error {
	p.mu.Lock()
	var handles []transport.Handle
	for id, r := range p.records {
		r.state = stateClosing
		handles = append(handles, r.handle)
		delete(p.records, id)
	}
	p.stats.CurrentSize.Store(0)
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	if len(handles) > 0 {
		p.logger.Warn("force-closed in-use connections at shutdown",
			"target", p.target,
			"count", len(handles),
		)
	}
	return nil
}

// Stats returns a point-in-time metrics snapshot for this pool.
func (p *Pool) Stats() metrics.Snapshot {
	snap := p.stats.Snapshot()
	snap.MaxSize = int64(p.cfg.MaxSize)
	snap.BreakerState = p.breaker.State().String()
	return snap
}
