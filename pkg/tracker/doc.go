/*
Package tracker records per-stage execution timing for a deterministic
sample of requests.

Whether a request is tracked is a pure function of its thread identifier
(xxhash64 modulo 100 against the configured rate), so a request is either
fully traced through every stage or not traced at all, and all instances in
the fleet agree on the decision. Samples live in fixed-capacity per-stage
ring buffers; Statistics answers latency-percentile queries over the most
recent samples without unbounded memory.
*/
package tracker
