/*
Package metrics exposes Prometheus metrics for the gateway.

All metrics are package-level vars registered in init and updated directly
by the owning components; the Collector goroutine additionally samples
gauge-style state (pool utilization, queue depth, breaker states) on a fixed
interval so the scrape always sees fresh values even when traffic is idle.

The handler is mounted on the admin mux at /metrics.
*/
package metrics
