// ABOUTME: Background health monitor driving one pool's maintenance cycle.
// ABOUTME: Each tick reaps idle-expired connections and probes one idle record.

package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// probeTimeout bounds the list-capabilities probe so a wedged connection
// cannot stall the monitor loop.
const probeTimeout = 5 * time.Second

// Pool is the maintenance surface a monitor drives. The connection pool
// implements it.
type Pool interface {
	Name() string
	ReapExpired() int
	ProbeIdle(ctx context.Context) error
}

// Monitor runs the periodic health cycle for one pool. It is owned by the
// pool manager and stopped with it; cycle failures are logged and never
// propagate to callers.
type Monitor struct {
	pool     Pool
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor for pool, ticking every interval. Call
// Start to begin.
func NewMonitor(pool Pool, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the monitor goroutine.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cycle()
		}
	}
}

// cycle performs one maintenance pass. A panic here is contained: the
// monitor logs it and waits for its next tick.
func (m *Monitor) cycle() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health cycle panicked",
				"pool", m.pool.Name(),
				"panic", r,
			)
		}
	}()

	if n := m.pool.ReapExpired(); n > 0 {
		m.logger.Debug("reaped idle-expired connections",
			"pool", m.pool.Name(),
			"count", n,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := m.pool.ProbeIdle(ctx); err != nil {
		m.logger.Warn("health probe failed", "pool", m.pool.Name(), "error", err)
	}
}

// Stop halts the monitor and waits for the current cycle to finish. Safe
// to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
