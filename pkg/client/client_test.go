package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/types"
)

func sseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stream" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func collect(events <-chan types.StreamEvent) (chunks []string, heartbeats int, done bool, gwErr *types.Error) {
	for ev := range events {
		switch ev.Type {
		case types.EventChunk:
			chunks = append(chunks, ev.Content)
		case types.EventHeartbeat:
			heartbeats++
		case types.EventDone:
			done = true
		case types.EventError:
			gwErr = ev.Err
		}
	}
	return chunks, heartbeats, done, gwErr
}

func TestStreamDecodesFrames(t *testing.T) {
	body := ": ping\n\n" +
		"data: {\"event\":\"chunk\",\"data\":{\"content\":\"HELLO \"}}\n\n" +
		"data: {\"event\":\"chunk\",\"data\":{\"content\":\"WORLD\"}}\n\n" +
		"data: [DONE]\n\n"
	ts := sseServer(t, http.StatusOK, body)

	events, err := New(ts.URL).Stream(context.Background(), StreamRequest{Query: "q", Model: "m"}, "t-1")
	require.NoError(t, err)

	chunks, heartbeats, done, gwErr := collect(events)
	require.Nil(t, gwErr)
	assert.True(t, done)
	assert.Equal(t, 1, heartbeats)
	assert.Equal(t, []string{"HELLO ", "WORLD"}, chunks)
}

func TestStreamDecodesInBandError(t *testing.T) {
	body := "data: {\"event\":\"chunk\",\"data\":{\"content\":\"partial\"}}\n\n" +
		"data: {\"event\":\"error\",\"data\":{\"error\":\"provider_stream_failure\",\"message\":\"upstream reset\"}}\n\n"
	ts := sseServer(t, http.StatusOK, body)

	events, err := New(ts.URL).Stream(context.Background(), StreamRequest{Query: "q", Model: "m"}, "")
	require.NoError(t, err)

	chunks, _, done, gwErr := collect(events)
	assert.Equal(t, []string{"partial"}, chunks)
	assert.False(t, done)
	require.NotNil(t, gwErr)
	assert.Equal(t, types.ErrProviderStream, gwErr.Kind)
}

func TestStreamPreStreamRejection(t *testing.T) {
	ts := sseServer(t, http.StatusTooManyRequests,
		`{"error":"rate_limited","message":"over budget","details":{"retry_after_seconds":12}}`)

	_, err := New(ts.URL).Stream(context.Background(), StreamRequest{Query: "q", Model: "m"}, "")
	require.Error(t, err)

	var gwErr *types.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrRateLimited, gwErr.Kind)
	assert.EqualValues(t, 12, gwErr.Details["retry_after_seconds"])
}

func TestReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/health/ready", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ready, err := New(ts.URL).Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestExecutionStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/admin/execution-stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"1": map[string]any{"count": 10},
			"5": map[string]any{"count": 10},
		})
	}))
	defer ts.Close()

	stats, err := New(ts.URL).ExecutionStats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, stats, "1")
	assert.Contains(t, stats, "5")
}
