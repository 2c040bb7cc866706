package provider

import (
	"context"
	"strings"
	"time"

	"github.com/sluiceio/sluice/pkg/types"
)

// Fake is a deterministic in-process provider for development and tests.
// Without overrides it streams the query back uppercased, one word per
// chunk. Failure modes are injectable so failover paths can be exercised.
type Fake struct {
	name string

	// Response overrides the echoed content when non-empty.
	Response string
	// FailBeforeFirstChunk makes Stream return an error immediately.
	FailBeforeFirstChunk bool
	// FailAfterChunks terminates the stream with an error once that many
	// chunks were delivered. Zero disables.
	FailAfterChunks int
	// ChunkDelay paces the stream for timing-sensitive tests.
	ChunkDelay time.Duration
	// StreamErr is the error used for injected failures.
	StreamErr error
}

// NewFake is the Factory for the fake kind.
func NewFake(spec types.ProviderSpec, _ Options) (Provider, error) {
	return &Fake{name: spec.Name}, nil
}

// Name implements Provider.
func (f *Fake) Name() string { return f.name }

// Stream implements Provider.
func (f *Fake) Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error) {
	if f.FailBeforeFirstChunk {
		return nil, f.injectedErr()
	}

	content := f.Response
	if content == "" {
		content = strings.ToUpper(req.Query)
	}
	words := strings.SplitAfter(content, " ")

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for i, w := range words {
			if w == "" {
				continue
			}
			if f.FailAfterChunks > 0 && i >= f.FailAfterChunks {
				select {
				case ch <- Chunk{Err: f.injectedErr()}:
				case <-ctx.Done():
				}
				return
			}
			if f.ChunkDelay > 0 {
				select {
				case <-time.After(f.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- Chunk{Content: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *Fake) injectedErr() error {
	if f.StreamErr != nil {
		return f.StreamErr
	}
	return errFakeFailure
}

var errFakeFailure = &fakeError{}

type fakeError struct{}

func (*fakeError) Error() string { return "fake provider: injected failure" }
