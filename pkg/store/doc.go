/*
Package store wraps the shared key-value store that coordinates the gateway
fleet.

The Store interface is the only cross-instance coordination mechanism in the
system. It exposes exactly the capabilities the components need: atomic
counters with TTL, Lua scripting for multi-key atomic updates, sets, streams
with consumer-group semantics, and pub/sub channels with server-side blocking
receive.

The production implementation runs on Redis via go-redis; tests run the same
implementation against miniredis. Subscribe confirms the subscription before
returning, which the queue failover path relies on for its
subscribe-before-enqueue ordering.
*/
package store
