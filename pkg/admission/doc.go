/*
Package admission implements the first overload defense layer in front of
the pool coordinator.

The Shedder is a non-blocking token bucket: rejected requests fail fast with
a 503 before touching the shared store. Backpressure guards the producer
side of the failover stream: past the depth threshold the producer retries
with jittered exponential backoff and finally surfaces queue_full.
*/
package admission
