package admission

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

var errQueueSaturated = errors.New("admission: queue above backpressure threshold")

// Backpressure wraps enqueue operations on a shared stream. When the stream
// length reaches the configured ratio of the ceiling, the producer backs
// off exponentially (100 ms base, x2, ±25% jitter) before giving up with
// queue_full.
type Backpressure struct {
	store       store.Store
	stream      string
	maxDepth    int64
	ratio       float64
	maxAttempts uint
	baseDelay   time.Duration
	logger      zerolog.Logger
}

// NewBackpressure creates the producer-side guard for a stream.
func NewBackpressure(st store.Store, stream string, maxDepth int, ratio float64, maxAttempts int) *Backpressure {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &Backpressure{
		store:       st,
		stream:      stream,
		maxDepth:    int64(maxDepth),
		ratio:       ratio,
		maxAttempts: uint(maxAttempts),
		baseDelay:   100 * time.Millisecond,
		logger:      log.WithComponent("backpressure"),
	}
}

// Enqueue appends values to the stream, retrying through saturation. The
// returned ID is the stream entry ID.
func (b *Backpressure) Enqueue(ctx context.Context, values map[string]any) (string, *types.Error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25

	id, err := backoff.Retry(ctx, func() (string, error) {
		depth, err := b.store.StreamLen(ctx, b.stream)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		metrics.QueueDepth.Set(float64(depth))
		if float64(depth) >= b.ratio*float64(b.maxDepth) {
			b.logger.Debug().Int64("depth", depth).Msg("queue saturated, backing off")
			return "", errQueueSaturated
		}
		id, err := b.store.StreamAdd(ctx, b.stream, values)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return id, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(b.maxAttempts))

	if err != nil {
		if errors.Is(err, errQueueSaturated) {
			metrics.QueueFullTotal.Inc()
			return "", types.NewError(types.ErrQueueFull, "failover queue is full")
		}
		return "", types.NewError(types.ErrInternal, "enqueue failed").WithDetail("cause", err.Error())
	}
	return id, nil
}

// Depth returns the current stream length.
func (b *Backpressure) Depth(ctx context.Context) (int64, error) {
	return b.store.StreamLen(ctx, b.stream)
}
