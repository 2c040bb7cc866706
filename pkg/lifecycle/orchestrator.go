package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/cache"
	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/pool"
	"github.com/sluiceio/sluice/pkg/provider"
	"github.com/sluiceio/sluice/pkg/ratelimit"
	"github.com/sluiceio/sluice/pkg/tracker"
	"github.com/sluiceio/sluice/pkg/types"
	"github.com/sluiceio/sluice/pkg/validate"
)

// Orchestrator drives the numbered stages for a single admitted request and
// produces its lazy event sequence. It owns the request for the duration of
// Run; the pool lease is released exactly once on every exit path.
type Orchestrator struct {
	validator *validate.Validator
	cache     *cache.TwoTier
	limiter   *ratelimit.Limiter
	providers *provider.Registry
	tracker   *tracker.Tracker
	runtime   *config.Runtime
	cfg       *config.Config
	logger    zerolog.Logger
}

// New wires an orchestrator.
func New(
	validator *validate.Validator,
	twoTier *cache.TwoTier,
	limiter *ratelimit.Limiter,
	providers *provider.Registry,
	trk *tracker.Tracker,
	runtime *config.Runtime,
	cfg *config.Config,
) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		cache:     twoTier,
		limiter:   limiter,
		providers: providers,
		tracker:   trk,
		runtime:   runtime,
		cfg:       cfg,
		logger:    log.WithComponent("lifecycle"),
	}
}

// Run executes the stages and returns the event sequence. The channel is
// unbuffered so at most one chunk sits between the provider and the
// consumer, and it is closed after the terminal event. lease may be nil
// (failover workers own their lease separately).
func (o *Orchestrator) Run(ctx context.Context, req *types.Request, lease *pool.Lease) <-chan types.StreamEvent {
	events := make(chan types.StreamEvent)
	go func() {
		defer close(events)
		defer o.cleanup(req, lease)
		o.run(ctx, req, events)
	}()
	return events
}

// cleanup is stage 7 and runs on every exit path, including cancellation.
// It uses a fresh context because the request's own context may already be
// dead.
func (o *Orchestrator) cleanup(req *types.Request, lease *pool.Lease) {
	span := o.tracker.Begin(tracker.StageCleanup, req.ThreadID, false)
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lease.Release(releaseCtx)
	span.End(types.OutcomeSuccess)
}

func (o *Orchestrator) run(ctx context.Context, req *types.Request, events chan<- types.StreamEvent) {
	emit := func(ev types.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Stage 1: validation.
	span := o.tracker.Begin(tracker.StageValidation, req.ThreadID, false)
	if verr := o.validator.Validate(req); verr != nil {
		span.End(types.OutcomeError)
		emit(types.ErrEvent(verr))
		return
	}
	span.End(types.OutcomeSuccess)

	fp := cache.Fingerprint(req)

	// Stage 2: cache lookup.
	if o.runtime.CachingEnabled() {
		span := o.tracker.Begin(tracker.StageCacheLookup, req.ThreadID, false)
		lookupCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.Timeouts.CacheLookupMS)*time.Millisecond)
		value, src, ok := o.cache.Get(lookupCtx, fp, req.ThreadID)
		cancel()
		if ok {
			span.EndWith(types.OutcomeHit, map[string]string{"source": string(src)})
			o.emitCached(ctx, emit, value)
			return
		}
		span.End(types.OutcomeMiss)

		// Single-flight population: the first miss for a key computes;
		// concurrent misses subscribe and replay the produced value. The
		// miss above already consulted both tiers, so this goes straight
		// to the flight.
		value, src, err := o.cache.Compute(ctx, fp, func(ctx context.Context) (string, error) {
			return o.computeAndPopulate(ctx, req, fp, emit)
		})
		switch {
		case err == nil && src == cache.SourceComputed:
			// Chunks were already streamed by the compute function.
			emit(types.Done())
		case err == nil:
			o.emitCached(ctx, emit, value)
		case ctx.Err() != nil:
			// Client gone; nothing to surface.
		case src == cache.SourceComputed:
			o.emitRunError(emit, err)
		default:
			// The producing request failed; this subscriber falls back to
			// its own provider path rather than inheriting the failure.
			if _, runErr := o.computeAndPopulate(ctx, req, fp, emit); runErr != nil {
				o.emitRunError(emit, runErr)
				return
			}
			emit(types.Done())
		}
		return
	}

	// Caching disabled: straight through stages 3-5.
	if _, err := o.streamStages(ctx, req, emit); err != nil {
		o.emitRunError(emit, err)
		return
	}
	emit(types.Done())
}

// emitCached replays a cached response as a single chunk followed by done.
func (o *Orchestrator) emitCached(_ context.Context, emit func(types.StreamEvent) bool, value string) {
	if !emit(types.Chunk(value)) {
		return
	}
	emit(types.Done())
}

// computeAndPopulate runs stages 3-5 and, on clean completion, stage 6.
func (o *Orchestrator) computeAndPopulate(ctx context.Context, req *types.Request, fp string, emit func(types.StreamEvent) bool) (string, error) {
	content, err := o.streamStages(ctx, req, emit)
	if err != nil {
		return "", err
	}

	// Stage 6: cache population. Skipped when the client disconnected, even
	// if the provider finished; best-effort otherwise.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	span := o.tracker.Begin(tracker.StageCacheWrite, req.ThreadID, false)
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	o.cache.Set(writeCtx, fp, content)
	cancel()
	span.End(types.OutcomeSuccess)
	return content, nil
}

// streamStages runs rate limiting, provider selection, and token streaming,
// emitting chunk events as they arrive. Returns the concatenated response.
func (o *Orchestrator) streamStages(ctx context.Context, req *types.Request, emit func(types.StreamEvent) bool) (string, error) {
	// Stage 3: rate limit.
	span := o.tracker.Begin(tracker.StageRateLimit, req.ThreadID, false)
	limitCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.Timeouts.RateLimitMS)*time.Millisecond)
	res, err := o.limiter.Check(limitCtx, req.UserID, 1)
	cancel()
	if err != nil {
		// Shared store loss degrades to allowing the request.
		o.logger.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("rate limit check failed, allowing")
	} else if !res.Allowed {
		span.End(types.OutcomeError)
		metrics.RateLimitedTotal.Inc()
		return "", types.NewError(types.ErrRateLimited, "rate limit exceeded").
			WithDetail("retry_after_seconds", int(res.RetryAfter.Seconds())+1)
	}
	span.End(types.OutcomeSuccess)

	// Stages 4-5 with provider fan-out: a provider that fails before its
	// first chunk is excluded and the next healthy one is tried.
	fanOut := o.cfg.ProviderFanOut
	if fanOut < 1 {
		fanOut = 1
	}
	exclude := make(map[string]bool)
	for attempt := 0; attempt < fanOut; attempt++ {
		// Stage 4: provider selection.
		span := o.tracker.Begin(tracker.StageProviderPick, req.ThreadID, false)
		name, ok := o.providers.SelectHealthy(ctx, req.Provider, exclude)
		if !ok {
			span.End(types.OutcomeError)
			return "", types.NewError(types.ErrNoProviders, "no healthy provider available")
		}
		span.EndWith(types.OutcomeSuccess, map[string]string{"provider": name})

		content, sentAny, err := o.streamFrom(ctx, name, req, emit)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if sentAny {
			// Tokens already reached the client; surface the failure
			// in-band rather than restarting on another provider.
			return "", err
		}
		logger := log.WithProvider(name)
		logger.Warn().
			Str("thread_id", req.ThreadID).
			Err(err).
			Msg("provider failed before first chunk, trying next")
		exclude[name] = true
	}
	return "", types.NewError(types.ErrNoProviders, "all provider attempts failed")
}

// streamFrom executes stage 5 against one provider under its breaker.
func (o *Orchestrator) streamFrom(ctx context.Context, name string, req *types.Request, emit func(types.StreamEvent) bool) (string, bool, error) {
	breakers := o.providers.Breakers()
	call, berr := breakers.Before(ctx, name)
	if berr != nil {
		return "", false, berr
	}

	p, err := o.providers.Get(name)
	if err != nil {
		call.Failure(ctx)
		return "", false, types.NewError(types.ErrInternal, "provider construction failed").
			WithDetail("provider", name)
	}

	span := o.tracker.Begin(tracker.StageStreaming, req.ThreadID, false)
	ch, err := p.Stream(ctx, req)
	if err != nil {
		call.Failure(ctx)
		span.End(types.OutcomeError)
		return "", false, types.NewError(types.ErrProviderStream, "provider connection failed").
			WithDetail("provider", name)
	}

	var content strings.Builder
	sentAny := false
	for chunk := range ch {
		if chunk.Err != nil {
			call.Failure(ctx)
			span.End(types.OutcomeError)
			return "", sentAny, types.NewError(types.ErrProviderStream, "provider stream failed").
				WithDetail("provider", name)
		}
		if !emit(types.Chunk(chunk.Content)) {
			// Client disconnected; abandon the stream. The breaker records
			// nothing: the provider did not fail.
			span.End(types.OutcomeCancelled)
			return "", sentAny, ctx.Err()
		}
		sentAny = true
		content.WriteString(chunk.Content)
	}
	if ctx.Err() != nil {
		span.End(types.OutcomeCancelled)
		return "", sentAny, ctx.Err()
	}

	call.Success(ctx)
	span.End(types.OutcomeSuccess)
	return content.String(), sentAny, nil
}

// emitRunError translates a stage failure into the terminal error event.
func (o *Orchestrator) emitRunError(emit func(types.StreamEvent) bool, err error) {
	if gwErr, ok := err.(*types.Error); ok {
		emit(types.ErrEvent(gwErr))
		return
	}
	emit(types.ErrEvent(types.NewError(types.ErrInternal, err.Error())))
}
