package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sluiceio/sluice/pkg/types"
)

// Client is a Go consumer of the gateway's streaming API. It decodes the
// SSE frames back into stream events, which makes it the natural tool for
// end-to-end tests and command-line consumers.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for a gateway base URL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
	}
}

// StreamRequest is the body of one streaming call.
type StreamRequest struct {
	Query    string `json:"query"`
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Stream   bool   `json:"stream"`
}

// Stream opens a completion stream. The returned channel closes after the
// terminal event; a pre-stream rejection is returned as *types.Error.
func (c *Client) Stream(ctx context.Context, req StreamRequest, threadID string) (<-chan types.StreamEvent, error) {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if threadID != "" {
		httpReq.Header.Set("X-Thread-ID", threadID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var gwErr types.Error
		if decodeErr := json.NewDecoder(resp.Body).Decode(&gwErr); decodeErr != nil {
			return nil, fmt.Errorf("stream rejected with status %d", resp.StatusCode)
		}
		return nil, &gwErr
	}

	events := make(chan types.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.decode(ctx, resp.Body, events)
	}()
	return events, nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chunkData struct {
	Content string `json:"content"`
}

// decode reads SSE lines and reconstructs events until the body ends.
func (c *Client) decode(ctx context.Context, body io.Reader, events chan<- types.StreamEvent) {
	emit := func(ev types.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ":"):
			if !emit(types.Heartbeat()) {
				return
			}
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				emit(types.Done())
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(data), &f); err != nil {
				continue
			}
			switch f.Event {
			case "chunk":
				var cd chunkData
				if err := json.Unmarshal(f.Data, &cd); err != nil {
					continue
				}
				if !emit(types.Chunk(cd.Content)) {
					return
				}
			case "error":
				var gwErr types.Error
				if err := json.Unmarshal(f.Data, &gwErr); err != nil {
					continue
				}
				emit(types.ErrEvent(&gwErr))
				return
			}
		}
	}
}

// Ready calls the readiness endpoint.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/health/ready", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// ExecutionStats fetches aggregate stage latency statistics.
func (c *Client) ExecutionStats(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/admin/execution-stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execution-stats returned status %d", resp.StatusCode)
	}
	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
