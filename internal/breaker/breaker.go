// ABOUTME: Circuit breaker guarding connection attempts to a single tool server.
// ABOUTME: Closed/Open/HalfOpen state machine with a CAS-gated half-open trial.

package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the current position of the breaker state machine.
type State int

const (
	// StateClosed allows all attempts. This is the initial state.
	StateClosed State = iota
	// StateOpen rejects all attempts until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen permits exactly one trial attempt.
	StateHalfOpen
)

// String returns the lowercase state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock abstracts time for deterministic recovery-timeout tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Breaker isolates a repeatedly failing target server. It never returns
// errors and never blocks; it only advises callers via Allow. Callers are
// expected to pair every permitted attempt with exactly one RecordSuccess
// or RecordFailure.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	clock            Clock
	logger           *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time

	// trialInFlight gates the single HalfOpen trial. Concurrent Allow
	// calls race on the CAS so exactly one wins.
	trialInFlight atomic.Bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, used by tests to control the recovery timer.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New creates a Breaker for the named target. The breaker opens after
// failureThreshold consecutive failures and probes again after
// recoveryTimeout.
func New(name string, failureThreshold int, recoveryTimeout time.Duration, logger *slog.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		clock:            systemClock{},
		logger:           logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a connection attempt may proceed. In HalfOpen it
// grants exactly one trial across all concurrent callers.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.recoveryTimeout {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight.Store(false)
		return b.trialInFlight.CompareAndSwap(false, true)

	case StateHalfOpen:
		return b.trialInFlight.CompareAndSwap(false, true)

	default:
		return false
	}
}

// RecordSuccess reports a successful attempt. A HalfOpen trial success
// closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight.Store(false)
		b.consecutiveFailures = 0
		b.transitionLocked(StateClosed)
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure reports a failed attempt. Reaching the failure threshold in
// Closed, or any failure of the HalfOpen trial, opens the breaker and
// restarts the recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight.Store(false)
		b.openedAt = b.clock.Now()
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.openedAt = b.clock.Now()
			b.transitionLocked(StateOpen)
		}
	}
}

// State returns the current state without side effects. An Open breaker
// whose recovery timeout has elapsed still reports Open until the next
// Allow call performs the transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a read-only view of the breaker for observability.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Snapshot returns the current breaker state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Reset forces the breaker back to Closed and clears the failure count.
// Intended for administrative use after a known-good deploy.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.trialInFlight.Store(false)
	b.transitionLocked(StateClosed)
}

// transitionLocked moves to a new state and logs the change. Must be called
// with mu held.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	if b.logger == nil {
		return
	}
	switch to {
	case StateOpen:
		b.logger.Warn("circuit opened",
			"target", b.name,
			"from", from.String(),
			"consecutive_failures", b.consecutiveFailures,
			"recovery_timeout", b.recoveryTimeout,
		)
	default:
		b.logger.Info("circuit state changed",
			"target", b.name,
			"from", from.String(),
			"to", to.String(),
		)
	}
}
