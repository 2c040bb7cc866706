/*
Package gateway is the HTTP edge: request parsing, admission, and the SSE
transcription of event sequences produced by the request lifecycle or the
queue failover bridge. Errors occurring before the first frame map to HTTP
status codes; once streaming has begun every failure surfaces in-band as an
SSE error event on a 200 response.
*/
package gateway
