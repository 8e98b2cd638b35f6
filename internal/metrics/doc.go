// Package metrics aggregates connection pool counters for observability.
//
// Each pool owns a PoolStats with atomic counters (hits, misses, fallbacks,
// connection errors, health check failures) and gauges (current size, in
// use). The Collector reads Snapshots through the Source interface, with
// no way to mutate pool state, and classifies overall health as healthy,
// warning (a pool near capacity or with elevated errors), or critical (a
// circuit breaker open).
package metrics
