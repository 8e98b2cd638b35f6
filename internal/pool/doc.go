// Package pool maintains bounded, reusable connection pools to remote
// tool servers, one pool per named target.
//
// The Manager owns the target registry and lazily creates a Pool on first
// acquire. Each pool bounds its connection count, hands out idle
// connections before creating new ones, and makes callers at capacity
// wait for a release. A per-pool circuit breaker stops connection
// attempts against a target that keeps failing, and an unpooled fallback
// path in the Manager trades efficiency for availability when a pool
// cannot serve.
package pool
