/*
Package log provides structured logging for Sluice built on zerolog.

A single global logger is initialized once at process start via Init and
shared by all components. Child loggers carry stable correlation fields:

	logger := log.WithComponent("pool")
	logger.Warn().Str("user_id", userID).Msg("per-user limit reached")

Every log line emitted on a request path carries the request's thread_id so
fleet-wide traces can be stitched together from any instance's output.
*/
package log
