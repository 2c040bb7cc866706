package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/admission"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

const (
	// JobStream is the shared stream carrying failover jobs.
	JobStream = "sluice:queue:jobs"
	// ConsumerGroup claims each job exactly once across the fleet.
	ConsumerGroup = "sluice-workers"

	resultChannelPrefix = "sluice:queue:results:"
	cancelKeyPrefix     = "sluice:queue:cancel:"
	cancelFlagTTL       = 5 * time.Minute
)

// ResultChannelFor derives a job's unique result channel from the thread
// identifier.
func ResultChannelFor(threadID string) string {
	return resultChannelPrefix + threadID
}

// Failover bridges a locally un-admissible request to a worker on another
// instance: subscribe to the result channel, append the job, then forward
// every published message to the client.
type Failover struct {
	store     store.Store
	bp        *admission.Backpressure
	heartbeat time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewFailover creates the producer side of the bridge.
func NewFailover(st store.Store, bp *admission.Backpressure, heartbeat, timeout time.Duration) *Failover {
	return &Failover{
		store:     st,
		bp:        bp,
		heartbeat: heartbeat,
		timeout:   timeout,
		logger:    log.WithComponent("queue"),
	}
}

// Execute runs the failover path for one request, producing the same event
// sequence shape as the local lifecycle. Heartbeats are emitted while the
// worker is silent; the whole wait is bounded by the configured deadline.
func (f *Failover) Execute(ctx context.Context, req *types.Request) <-chan types.StreamEvent {
	events := make(chan types.StreamEvent)
	go func() {
		defer close(events)
		f.run(ctx, req, events)
	}()
	return events
}

func (f *Failover) run(ctx context.Context, req *types.Request, events chan<- types.StreamEvent) {
	emit := func(ev types.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	job := types.QueueJob{
		ID:            uuid.NewString(),
		Request:       *req,
		ThreadID:      req.ThreadID,
		UserID:        req.UserID,
		ResultChannel: ResultChannelFor(req.ThreadID),
		SubmittedAt:   time.Now().UTC(),
	}
	// Subscribe before enqueue: the worker may publish immediately after
	// claiming the job, and messages sent before the subscription is
	// confirmed would be lost.
	sub, err := f.store.Subscribe(ctx, job.ResultChannel)
	if err != nil {
		f.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("result channel subscription failed")
		emit(types.ErrEvent(types.NewError(types.ErrInternal, "failover subscription failed")))
		return
	}
	defer sub.Close()

	payload, err := json.Marshal(job)
	if err != nil {
		emit(types.ErrEvent(types.NewError(types.ErrInternal, "failover job encoding failed")))
		return
	}

	if _, enqueueErr := f.bp.Enqueue(ctx, map[string]any{"job": string(payload)}); enqueueErr != nil {
		emit(types.ErrEvent(enqueueErr))
		return
	}
	metrics.QueueJobsTotal.WithLabelValues("enqueued").Inc()
	f.logger.Debug().Str("thread_id", req.ThreadID).Str("job_id", job.ID).Msg("failover job enqueued")

	deadline := time.Now().Add(f.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.QueueJobsTotal.WithLabelValues("timeout").Inc()
			emit(types.ErrEvent(types.NewError(types.ErrQueueTimeout, "no worker produced a result in time")))
			return
		}
		wait := f.heartbeat
		if remaining < wait {
			wait = remaining
		}

		payload, err := sub.ReceiveMessage(ctx, wait)
		if err != nil {
			if err == store.ErrReceiveTimeout {
				if !emit(types.Heartbeat()) {
					f.cancelJob(job.ID, req.ThreadID)
					return
				}
				continue
			}
			if ctx.Err() != nil {
				f.cancelJob(job.ID, req.ThreadID)
				return
			}
			emit(types.ErrEvent(types.NewError(types.ErrInternal, "result channel receive failed")))
			return
		}

		var msg types.ResultMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			f.logger.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("malformed result message")
			continue
		}

		switch msg.Type {
		case types.ResultChunks:
			for _, chunk := range msg.Chunks {
				if !emit(types.Chunk(chunk)) {
					f.cancelJob(job.ID, req.ThreadID)
					return
				}
			}
		case types.ResultDone:
			metrics.QueueJobsTotal.WithLabelValues("completed").Inc()
			emit(types.Done())
			return
		case types.ResultError:
			metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
			if msg.Err != nil {
				emit(types.ErrEvent(msg.Err))
			} else {
				emit(types.ErrEvent(types.NewError(types.ErrInternal, "worker reported an error")))
			}
			return
		}
	}
}

// cancelJob sets the best-effort cancel flag so the worker can stop early
// after the client disconnected.
func (f *Failover) cancelJob(jobID, threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.store.Set(ctx, cancelKeyPrefix+jobID, "1", cancelFlagTTL); err != nil {
		f.logger.Warn().Err(err).Str("job_id", jobID).Msg("cancel flag write failed")
	}
	f.logger.Debug().Str("thread_id", threadID).Str("job_id", jobID).Msg("failover cancelled by client")
}
