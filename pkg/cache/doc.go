/*
Package cache implements the two-tier response cache.

L1 is a process-local bounded LRU; L2 is the shared store with a TTL. The
read path is L1 → L2 → miss, populating L1 on an L2 hit, so L1 is always a
subset of what L2 held within the last L1 lifetime. The write path updates
both tiers and tolerates L2 failures.

Cache keys are deterministic fingerprints (Fingerprint) over the normalized
request tuple, so semantically identical requests collapse to one entry
fleet-wide.

GetOrCompute provides single-flight population: concurrent misses for the
same key on one instance share a single compute, with late callers receiving
the produced value. Cross-instance duplicates are accepted.
*/
package cache
