/*
Package provider abstracts the upstream LLM backends.

A Provider exposes a name and a lazy, non-restartable token stream; failures
before the first token return an error from Stream, later failures arrive
in-band. The Registry owns one lazily constructed instance per provider per
process and ranks healthy providers for selection using the circuit breaker
registry: preference match first, closed circuits before half-open, then
registration order.

Three kinds ship: fake (deterministic, for development and tests), openai
(any OpenAI-compatible SSE endpoint), and anthropic (official SDK).
*/
package provider
