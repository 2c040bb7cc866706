/*
Package breaker implements the per-provider distributed circuit breaker.

State lives in the shared store under a stable key per provider, and every
transition is a single Lua script, so concurrent gateways agree on the state
machine: closed → open at the failure threshold, open → half_open after the
cooldown (one probe at a time, enforced with a short lease), half_open →
closed on probe success or back to open on probe failure.

If the shared store is unreachable the registry fails open with a warning; a
process-local gobreaker stays in the path so a persistently failing provider
is still fenced on this instance.
*/
package breaker
