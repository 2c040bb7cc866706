package types

import (
	"fmt"
	"time"
)

// Request is a single streaming completion request as accepted at admission.
// ThreadID is the opaque correlation key for the request's full lifetime;
// the same thread ID always yields the same sampling decision.
type Request struct {
	Query       string            `json:"query"`
	Model       string            `json:"model"`
	Provider    string            `json:"provider,omitempty"` // optional hint, normalized lowercase
	UserID      string            `json:"user_id,omitempty"`
	ThreadID    string            `json:"-"`
	Params      map[string]string `json:"params,omitempty"` // generation parameters relevant to the cache key
	SubmittedAt time.Time         `json:"-"`
}

// EventType tags a StreamEvent variant.
type EventType string

const (
	EventChunk     EventType = "chunk"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// StreamEvent is one element of the lazy event sequence produced by the
// request lifecycle. Exactly one of Content / Err is meaningful depending
// on Type.
type StreamEvent struct {
	Type    EventType
	Content string // chunk payload
	Err     *Error // set when Type == EventError
}

// Chunk returns a chunk event carrying content.
func Chunk(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

// Done returns the terminal success event.
func Done() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// ErrEvent wraps a gateway error as a stream event.
func ErrEvent(err *Error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// Heartbeat returns a keep-alive event, serialized as an SSE comment.
func Heartbeat() StreamEvent {
	return StreamEvent{Type: EventHeartbeat}
}

// ErrorKind enumerates the error kinds surfaced on the wire.
type ErrorKind string

const (
	ErrValidation          ErrorKind = "validation"
	ErrSecurity            ErrorKind = "security"
	ErrRateLimited         ErrorKind = "rate_limited"
	ErrPoolExhaustedGlobal ErrorKind = "pool_exhausted_global"
	ErrPoolExhaustedUser   ErrorKind = "pool_exhausted_user"
	ErrQueueFull           ErrorKind = "queue_full"
	ErrQueueTimeout        ErrorKind = "queue_timeout"
	ErrNoProviders         ErrorKind = "all_providers_unavailable"
	ErrProviderStream      ErrorKind = "provider_stream_failure"
	ErrTooManyConnections  ErrorKind = "too_many_connections"
	ErrShedding            ErrorKind = "shedding"
	ErrInternal            ErrorKind = "internal"
)

// Error is the typed error carried across stage boundaries and translated
// once at the HTTP edge.
type Error struct {
	Kind    ErrorKind      `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a typed gateway error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps an error kind to the pre-stream HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrValidation, ErrSecurity:
		return 400
	case ErrRateLimited, ErrPoolExhaustedUser, ErrTooManyConnections:
		return 429
	case ErrPoolExhaustedGlobal, ErrQueueFull, ErrQueueTimeout, ErrNoProviders, ErrShedding:
		return 503
	default:
		return 500
	}
}

// CircuitState is the distributed circuit breaker state for one provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// PoolHealth classifies global pool utilization. Transitions trigger log
// events only; admission is governed by the hard counters.
type PoolHealth string

const (
	PoolHealthy   PoolHealth = "healthy"
	PoolDegraded  PoolHealth = "degraded"
	PoolCritical  PoolHealth = "critical"
	PoolExhausted PoolHealth = "exhausted"
)

// AcquireResult is the outcome of a pool acquire attempt.
type AcquireResult string

const (
	AcquireAdmitted        AcquireResult = "admitted"
	AcquireGlobalExhausted AcquireResult = "global_exhausted"
	AcquireUserExhausted   AcquireResult = "user_exhausted"
)

// StageOutcome tags a tracker sample.
type StageOutcome string

const (
	OutcomeSuccess   StageOutcome = "success"
	OutcomeError     StageOutcome = "error"
	OutcomeCancelled StageOutcome = "cancelled"
	OutcomeHit       StageOutcome = "hit"
	OutcomeMiss      StageOutcome = "miss"
)

// QueueJob is a request snapshot handed to a worker on any instance via the
// shared stream. ResultChannel is unique to the job.
type QueueJob struct {
	ID            string    `json:"id"`
	Request       Request   `json:"request"`
	ThreadID      string    `json:"thread_id"`
	UserID        string    `json:"user_id"`
	ResultChannel string    `json:"result_channel"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ResultMessageType tags messages published on a job's result channel.
type ResultMessageType string

const (
	ResultChunks ResultMessageType = "chunks"
	ResultDone   ResultMessageType = "done"
	ResultError  ResultMessageType = "error"
)

// ResultMessage is one pub/sub message produced by a failover worker.
// Chunks are batched up to the configured batch size.
type ResultMessage struct {
	Type   ResultMessageType `json:"type"`
	Chunks []string          `json:"chunks,omitempty"`
	Err    *Error            `json:"err,omitempty"`
}

// ProviderSpec is one configured upstream provider.
type ProviderSpec struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    string   `yaml:"kind" json:"kind"` // fake | openai | anthropic
	Models  []string `yaml:"models" json:"models"`
	APIKey  string   `yaml:"apiKey" json:"-"`
	BaseURL string   `yaml:"baseUrl" json:"base_url,omitempty"`
}
