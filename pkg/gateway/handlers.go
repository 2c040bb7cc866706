package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/types"
)

// execStatsLimit bounds how many recent samples feed one statistics reply.
const execStatsLimit = 1000

// streamRequest is the accepted POST body.
type streamRequest struct {
	Query    string            `json:"query"`
	Model    string            `json:"model"`
	Provider string            `json:"provider,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
	Stream   bool              `json:"stream"`
	Params   map[string]string `json:"params,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	threadID := ThreadID(r.Context())

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		writeErrorJSON(w, types.NewError(types.ErrValidation, "Content-Type must be application/json"))
		return
	}

	var body streamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		writeErrorJSON(w, types.NewError(types.ErrValidation, "malformed request body"))
		return
	}

	userID := body.UserID
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		userID = "anonymous"
	}

	req := &types.Request{
		Query:       body.Query,
		Model:       body.Model,
		Provider:    body.Provider,
		UserID:      userID,
		ThreadID:    threadID,
		Params:      body.Params,
		SubmittedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.Timeouts.TotalRequestSec)*time.Second)
	defer cancel()

	events, gwErr := s.admit(ctx, req)
	if gwErr != nil {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		writeErrorJSON(w, gwErr)
		return
	}

	s.relay(ctx, cancel, w, threadID, events, req.SubmittedAt)
}

// admit resolves where the request runs: the local pool, the failover
// bridge, or nowhere.
func (s *Server) admit(ctx context.Context, req *types.Request) (<-chan types.StreamEvent, *types.Error) {
	result, lease, err := s.pool.Acquire(ctx, req.UserID, req.ThreadID)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "admission failed")
	}

	switch result {
	case types.AcquireAdmitted:
		return s.orch.Run(ctx, req, lease), nil

	case types.AcquireUserExhausted:
		// Failover cannot help here: the per-user counter is fleet-wide.
		current, _ := s.pool.UserActive(ctx, req.UserID)
		return nil, types.NewError(types.ErrTooManyConnections, "per-user connection limit reached").
			WithDetail("user_id", req.UserID).
			WithDetail("current", current).
			WithDetail("limit", s.cfg.Pool.PerUserMax)

	case types.AcquireGlobalExhausted:
		if s.failover != nil && s.runtime.FailoverEnabled() {
			s.logger.Debug().Str("thread_id", req.ThreadID).Msg("pool exhausted, using queue failover")
			return s.failover.Execute(ctx, req), nil
		}
		return nil, types.NewError(types.ErrPoolExhaustedGlobal, "connection pool exhausted")

	default:
		return nil, types.NewError(types.ErrInternal, "unknown admission result")
	}
}

// relay forwards the event sequence to the client. The first event decides
// the response shape: a leading error becomes a plain JSON status, anything
// else commits the SSE stream.
func (s *Server) relay(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, threadID string, events <-chan types.StreamEvent, start time.Time) {
	first, ok := <-events
	if !ok {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		writeErrorJSON(w, types.NewError(types.ErrInternal, "no response produced"))
		return
	}
	if first.Type == types.EventError {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		writeErrorJSON(w, first.Err)
		drain(events)
		return
	}

	sse, err := newSSEWriter(w, threadID)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		writeErrorJSON(w, types.NewError(types.ErrInternal, "streaming unsupported"))
		drain(events)
		return
	}

	outcome := "cancelled"
	ev := first
	for {
		if werr := sse.Write(ev); werr != nil {
			// Client connection is gone; stop the producer.
			cancel()
			drain(events)
			break
		}
		switch ev.Type {
		case types.EventDone:
			outcome = "success"
		case types.EventError:
			outcome = "error"
		}

		next, open := <-events
		if !open {
			break
		}
		ev = next
	}

	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	s.logger.Debug().Str("thread_id", threadID).Str("outcome", outcome).Msg("stream finished")
}

func drain(events <-chan types.StreamEvent) {
	go func() {
		for range events {
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results, ready := s.checks.RunAll(r.Context())

	checks := make(map[string]map[string]any, len(results))
	for name, res := range results {
		checks[name] = map[string]any{
			"healthy": res.Healthy,
			"message": res.Message,
		}
	}
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleExecStats(w http.ResponseWriter, _ *http.Request) {
	stages := s.tracker.Stages()
	out := make(map[string]any, len(stages))
	for _, stage := range stages {
		if stats, ok := s.tracker.Statistics(stage, execStatsLimit); ok {
			out[stage] = stats
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecStatsStage(w http.ResponseWriter, r *http.Request) {
	stageID := chi.URLParam(r, "stageID")
	stats, ok := s.tracker.Statistics(stageID, execStatsLimit)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown stage"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Get())
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var snapshot config.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := s.runtime.Apply(snapshot); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info().
		Str("thread_id", ThreadID(r.Context())).
		Float64("sample_rate", snapshot.SampleRate).
		Bool("caching_enabled", snapshot.CachingEnabled).
		Bool("failover_enabled", snapshot.FailoverEnabled).
		Msg("runtime config updated")
	writeJSON(w, http.StatusOK, s.runtime.Get())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
