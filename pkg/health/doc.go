/*
Package health implements the readiness probes behind the gateway's health
endpoints. Liveness is unconditional; readiness aggregates probes against
the shared store and the provider breaker states, with a retry threshold so
one transient failure does not flap the instance out of rotation.
*/
package health
