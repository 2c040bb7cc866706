/*
Package queue implements the failover bridge between gateway instances.

When local pool admission fails, the handling instance subscribes to a
result channel derived from the thread ID, confirms the subscription, and
only then appends the job to the shared stream, so a fast worker can never
publish into the void. Any instance's worker claims the job through a
consumer group (exactly once), acquires a slot on its own pool, runs the
full lifecycle, and publishes chunk batches followed by a done or error
sentinel. The producer forwards each message to the client as SSE frames,
emitting heartbeat comments while the worker is silent and failing with
queue_timeout when the total wait exceeds the deadline. Client disconnects
set a best-effort cancel flag the worker checks between batches.
*/
package queue
