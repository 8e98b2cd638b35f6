// ABOUTME: Per-pool counters, read-only snapshots, and the overall status classification.
// ABOUTME: The Collector aggregates over a Source (the pool manager) without mutating it.

package metrics

import (
	"log/slog"
	"sync/atomic"
)

// PoolStats holds the live counters for one pool. Pools increment these;
// everything exposed to callers goes through read-only Snapshots.
type PoolStats struct {
	Hits                atomic.Int64
	Misses              atomic.Int64
	Fallbacks           atomic.Int64
	ConnectionErrors    atomic.Int64
	HealthCheckFailures atomic.Int64
	CurrentSize         atomic.Int64
	InUse               atomic.Int64
}

// Snapshot copies the counters at one instant. Derived, never authoritative.
func (s *PoolStats) Snapshot() Snapshot {
	return Snapshot{
		Hits:                s.Hits.Load(),
		Misses:              s.Misses.Load(),
		Fallbacks:           s.Fallbacks.Load(),
		ConnectionErrors:    s.ConnectionErrors.Load(),
		HealthCheckFailures: s.HealthCheckFailures.Load(),
		CurrentSize:         s.CurrentSize.Load(),
		InUse:               s.InUse.Load(),
	}
}

// Snapshot is the per-pool metrics view handed to observability callers.
// Fallbacks counts degraded unpooled connections, kept separate from
// pooled hits and misses.
type Snapshot struct {
	Hits                int64  `json:"hits"`
	Misses              int64  `json:"misses"`
	Fallbacks           int64  `json:"fallbacks"`
	ConnectionErrors    int64  `json:"connection_errors"`
	HealthCheckFailures int64  `json:"health_check_failures"`
	CurrentSize         int64  `json:"current_size"`
	InUse               int64  `json:"in_use"`
	MaxSize             int64  `json:"max_size"`
	BreakerState        string `json:"breaker_state"`
}

// Status classifies the health of the whole subsystem.
type Status string

const (
	// StatusHealthy means all pools are nominal.
	StatusHealthy Status = "healthy"
	// StatusWarning means at least one pool is near capacity or seeing
	// elevated errors.
	StatusWarning Status = "warning"
	// StatusCritical means at least one circuit breaker is open.
	StatusCritical Status = "critical"
)

// Classification thresholds. Alerting policy beyond these lives in the
// external monitoring collaborator.
const (
	utilizationWarning = 0.9
	errorRateWarning   = 0.1
)

// Source provides raw snapshots. Implemented by the pool manager.
type Source interface {
	Snapshot(target string) (Snapshot, bool)
	SnapshotAll() map[string]Snapshot
}

// Collector is the read-side aggregator over all pools. It exposes no
// mutation capability.
type Collector struct {
	source Source
	logger *slog.Logger
}

// NewCollector creates a Collector over the given source.
func NewCollector(source Source, logger *slog.Logger) *Collector {
	return &Collector{source: source, logger: logger}
}

// Snapshot returns one pool's metrics, if the pool exists.
func (c *Collector) Snapshot(target string) (Snapshot, bool) {
	return c.source.Snapshot(target)
}

// SnapshotAll returns the metrics of every pool, keyed by target name.
func (c *Collector) SnapshotAll() map[string]Snapshot {
	return c.source.SnapshotAll()
}

// Status returns the worst classification across all pools.
func (c *Collector) Status() Status {
	status := StatusHealthy
	for target, snap := range c.source.SnapshotAll() {
		switch Classify(snap) {
		case StatusCritical:
			if c.logger != nil {
				c.logger.Warn("pool critical", "target", target, "breaker", snap.BreakerState)
			}
			return StatusCritical
		case StatusWarning:
			status = StatusWarning
		}
	}
	return status
}

// Classify maps one pool's snapshot to a status: critical when its breaker
// is not closed, warning when utilization exceeds 90% or the connection
// error rate exceeds 10%.
func Classify(s Snapshot) Status {
	if s.BreakerState != "" && s.BreakerState != "closed" {
		return StatusCritical
	}

	if s.MaxSize > 0 && float64(s.InUse)/float64(s.MaxSize) > utilizationWarning {
		return StatusWarning
	}

	attempts := s.Hits + s.Misses + s.Fallbacks + s.ConnectionErrors
	if attempts > 0 && float64(s.ConnectionErrors)/float64(attempts) > errorRateWarning {
		return StatusWarning
	}

	return StatusHealthy
}
