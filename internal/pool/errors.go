// ABOUTME: Sentinel errors surfaced by pool acquisition and lifecycle operations.
// ABOUTME: Callers classify with errors.Is; transport-use failures wrap transport.ErrInvocation.

package pool

import "errors"

// ErrPoolExhausted indicates the pool is at max size and no connection was
// released within the caller's timeout.
var ErrPoolExhausted = errors.New("pool exhausted")

// ErrCircuitOpen indicates the target's circuit breaker currently disallows
// new connection attempts and no idle connection exists.
var ErrCircuitOpen = errors.New("circuit open")

// ErrConnectionCreation indicates the transport failed to establish a new
// connection after exhausting all retries.
var ErrConnectionCreation = errors.New("connection creation failed")

// ErrPoolClosed indicates an operation on a pool that has been shut down.
var ErrPoolClosed = errors.New("pool closed")

// ErrTargetNotFound indicates the manager has no catalog entry for the
// requested target name.
var ErrTargetNotFound = errors.New("target not found")
