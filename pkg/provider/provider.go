package provider

import (
	"context"

	"github.com/sluiceio/sluice/pkg/types"
)

// Chunk is one element of a provider's lazy token sequence. A chunk with
// Err set terminates the sequence; the channel is closed afterwards.
type Chunk struct {
	Content string
	Err     error
}

// Provider is the capability set every upstream must implement. Stream
// returns an error for failures before any token is produced (connection,
// auth, model rejection); failures after the first token arrive in-band as
// a Chunk with Err set. The returned sequence is finite and not
// restartable. Health is observed externally via the circuit breaker
// registry.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error)
}

// Options tunes provider construction shared across kinds.
type Options struct {
	ConnectTimeout int // seconds
	ReadTimeout    int // seconds, per chunk
}
