package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/lifecycle"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/pool"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

// readBlock is how long one ReadGroup call blocks server-side.
const readBlock = 2 * time.Second

// Worker consumes failover jobs from the shared stream and executes them
// with a locally acquired pool slot, publishing results to the job's
// channel. Consumer-group semantics deliver each job to exactly one worker
// in the fleet.
type Worker struct {
	store      store.Store
	pool       *pool.Coordinator
	orch       *lifecycle.Orchestrator
	consumer   string
	batchSize  int
	maxRetries int
	logger     zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker creates a worker. consumer must be unique per worker per fleet.
func NewWorker(st store.Store, coord *pool.Coordinator, orch *lifecycle.Orchestrator, consumer string, batchSize, maxRetries int) *Worker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Worker{
		store:      st,
		pool:       coord,
		orch:       orch,
		consumer:   consumer,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		logger:     log.WithComponent("queue-worker").With().Str("consumer", consumer).Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the claim loop.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.store.EnsureGroup(ctx, JobStream, ConsumerGroup); err != nil {
		return err
	}
	go w.loop(ctx)
	w.logger.Info().Msg("queue worker started")
	return nil
}

// Stop terminates the loop and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.store.ReadGroup(ctx, JobStream, ConsumerGroup, w.consumer, 1, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Msg("job stream read failed")
			select {
			case <-time.After(time.Second):
			case <-w.stopCh:
				return
			}
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
			if err := w.store.Ack(ctx, JobStream, ConsumerGroup, msg.ID); err != nil {
				w.logger.Warn().Err(err).Str("stream_id", msg.ID).Msg("job ack failed")
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg store.StreamMessage) {
	raw, ok := msg.Values["job"]
	if !ok {
		w.logger.Warn().Str("stream_id", msg.ID).Msg("job entry missing payload")
		return
	}
	var job types.QueueJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.Warn().Err(err).Str("stream_id", msg.ID).Msg("malformed job payload")
		return
	}
	job.Request.ThreadID = job.ThreadID

	logger := w.logger.With().Str("thread_id", job.ThreadID).Str("job_id", job.ID).Logger()

	if w.cancelled(ctx, job.ID) {
		logger.Debug().Msg("job cancelled before claim, skipping")
		return
	}

	lease, acqErr := w.acquireWithRetry(ctx, &job)
	if acqErr != nil {
		logger.Warn().Err(acqErr).Msg("could not acquire a local slot for job")
		w.publish(ctx, job.ResultChannel, types.ResultMessage{
			Type: types.ResultError,
			Err:  types.NewError(types.ErrPoolExhaustedGlobal, "no worker capacity"),
		})
		return
	}

	logger.Debug().Msg("job claimed")
	events := w.orch.Run(ctx, &job.Request, lease)

	batch := make([]string, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.publish(ctx, job.ResultChannel, types.ResultMessage{Type: types.ResultChunks, Chunks: batch})
		batch = make([]string, 0, w.batchSize)
	}

	for ev := range events {
		switch ev.Type {
		case types.EventChunk:
			batch = append(batch, ev.Content)
			if len(batch) >= w.batchSize {
				flush()
				// Cancellation is best-effort, checked between batches.
				if w.cancelled(ctx, job.ID) {
					logger.Debug().Msg("job cancelled mid-stream, abandoning")
					w.drain(events)
					return
				}
			}
		case types.EventDone:
			flush()
			w.publish(ctx, job.ResultChannel, types.ResultMessage{Type: types.ResultDone})
		case types.EventError:
			flush()
			w.publish(ctx, job.ResultChannel, types.ResultMessage{Type: types.ResultError, Err: ev.Err})
		}
	}
}

// acquireWithRetry attempts the local pool with backoff, since the worker's
// own instance may be saturated too.
func (w *Worker) acquireWithRetry(ctx context.Context, job *types.QueueJob) (*pool.Lease, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25

	return backoff.Retry(ctx, func() (*pool.Lease, error) {
		result, lease, err := w.pool.Acquire(ctx, job.UserID, job.ThreadID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if result != types.AcquireAdmitted {
			return nil, types.NewError(types.ErrPoolExhaustedGlobal, string(result))
		}
		return lease, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(w.maxRetries)))
}

func (w *Worker) cancelled(ctx context.Context, jobID string) bool {
	_, ok, err := w.store.Get(ctx, cancelKeyPrefix+jobID)
	return err == nil && ok
}

func (w *Worker) publish(ctx context.Context, channel string, msg types.ResultMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Msg("result message encoding failed")
		return
	}
	if err := w.store.Publish(ctx, channel, string(payload)); err != nil {
		w.logger.Warn().Err(err).Str("channel", channel).Msg("result publish failed")
	}
	metrics.SSEEventsTotal.WithLabelValues("relayed").Inc()
}

// drain consumes the remainder of an abandoned event stream so the
// orchestrator's cleanup stage runs.
func (w *Worker) drain(events <-chan types.StreamEvent) {
	for range events {
	}
}
