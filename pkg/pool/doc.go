/*
Package pool coordinates the distributed connection pool.

Each acquire and release is a single Lua script against the shared store, so
the global counter, the per-user counter, and the active thread set move as
one atomic batch with rollback on rejection. Release idempotence is anchored
on the thread set: a thread ID can only be removed once, so double release
never underflows a counter.

Health states (healthy, degraded, critical, exhausted) are derived from the
global counter for logs and metrics only; admission is always decided by the
hard counters. When the shared store is unreachable the coordinator degrades
to process-local counters with the same limits.
*/
package pool
