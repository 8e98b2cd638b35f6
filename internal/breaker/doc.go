// Package breaker implements per-target circuit breaking for tool server
// connections.
//
// # States
//
// A Breaker starts Closed and allows all attempts. After a configured number
// of consecutive failures it opens, rejecting attempts immediately so
// callers fail fast instead of waiting out connect timeouts. Once the
// recovery timeout elapses, the next Allow call moves the breaker to
// HalfOpen and grants exactly one trial attempt:
//
//	Closed --threshold failures--> Open --recovery timeout--> HalfOpen
//	HalfOpen --trial success--> Closed
//	HalfOpen --trial failure--> Open (timer restarts)
//
// # Contract
//
// The breaker only advises; it never performs attempts itself and never
// returns errors. Every Allow that returns true must be matched by exactly
// one RecordSuccess or RecordFailure. The single HalfOpen trial is enforced
// with a compare-and-swap on a trial-in-flight flag, so concurrent callers
// agree on one winner.
//
// # Testing
//
// Inject a Clock with WithClock to step through recovery timeouts
// deterministically.
package breaker
