/*
Package types defines the core data structures used throughout Sluice.

This package contains the fundamental types of the gateway's domain model:
requests, stream events, typed errors, circuit and pool states, queue jobs,
and provider specifications. All other packages depend on it and it depends
on nothing but the standard library.

# Core Types

Request lifecycle:
  - Request: a single streaming completion request with its thread ID
  - StreamEvent: tagged chunk / done / error / heartbeat variants
  - Error: the typed gateway error with a wire kind and HTTP mapping

Coordination:
  - CircuitState: closed, open, half_open
  - PoolHealth: healthy, degraded, critical, exhausted
  - AcquireResult: admitted, global_exhausted, user_exhausted
  - QueueJob / ResultMessage: the failover bridge payloads

All types are designed to be:
  - Serializable (JSON for wire payloads, YAML for configuration)
  - Immutable where possible
  - Self-documenting (constants for enums, clear field names)
*/
package types
