package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/types"
)

// sseWriter serializes stream events onto a client connection, flushing
// after every frame so tokens appear as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the connection for event streaming and commits the
// 200 status. Returns an error when the ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter, threadID string) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Thread-ID", threadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

type chunkPayload struct {
	Content string `json:"content"`
}

type chunkFrame struct {
	Event string       `json:"event"`
	Data  chunkPayload `json:"data"`
}

type errorFrame struct {
	Event string       `json:"event"`
	Data  *types.Error `json:"data"`
}

// Write emits one event as its wire frame.
func (s *sseWriter) Write(ev types.StreamEvent) error {
	var err error
	switch ev.Type {
	case types.EventChunk:
		err = s.writeJSON(chunkFrame{Event: "chunk", Data: chunkPayload{Content: ev.Content}})
	case types.EventDone:
		_, err = fmt.Fprint(s.w, "data: [DONE]\n\n")
	case types.EventError:
		e := ev.Err
		if e == nil {
			e = types.NewError(types.ErrInternal, "unknown error")
		}
		err = s.writeJSON(errorFrame{Event: "error", Data: e})
	case types.EventHeartbeat:
		_, err = fmt.Fprint(s.w, ": ping\n\n")
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		return err
	}
	s.flusher.Flush()
	metrics.SSEEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (s *sseWriter) writeJSON(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "data: %s\n\n", payload)
	return err
}

// writeErrorJSON renders a typed error as a plain JSON response with its
// mapped status code. Used only before streaming begins.
func writeErrorJSON(w http.ResponseWriter, gwErr *types.Error) {
	w.Header().Set("Content-Type", "application/json")
	if gwErr.Kind == types.ErrRateLimited {
		if retry, ok := gwErr.Details["retry_after_seconds"]; ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%v", retry))
		}
	}
	w.WriteHeader(gwErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(gwErr)
}
