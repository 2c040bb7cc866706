/*
Package lifecycle drives the fixed-stage pipeline for a single request:
validation, cache lookup, rate limiting, provider selection, token
streaming, cache population, and cleanup. Each stage runs under a scoped
tracker span; failures map to typed error events and terminate the
sequence. The event channel is unbuffered, so a slow client naturally
backpressures the provider through the transport.
*/
package lifecycle
