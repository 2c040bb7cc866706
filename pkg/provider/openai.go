package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sluiceio/sluice/pkg/types"
)

// OpenAI streams chat completions from any OpenAI-compatible endpoint. The
// upstream wire format is treated as opaque SSE data lines with a thin
// delta parser.
type OpenAI struct {
	name        string
	apiKey      string
	baseURL     string
	client      *http.Client
	readTimeout time.Duration
}

// NewOpenAI is the Factory for the openai kind.
func NewOpenAI(spec types.ProviderSpec, opts Options) (Provider, error) {
	baseURL := spec.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	connect := time.Duration(opts.ConnectTimeout) * time.Second
	if connect <= 0 {
		connect = 60 * time.Second
	}
	read := time.Duration(opts.ReadTimeout) * time.Second
	if read <= 0 {
		read = 30 * time.Second
	}
	return &OpenAI{
		name:    spec.Name,
		apiKey:  spec.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: connect,
			},
		},
		readTimeout: read,
	}, nil
}

// Name implements Provider.
func (p *OpenAI) Name() string { return p.name }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream implements Provider.
func (p *OpenAI) Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error) {
	body, err := json.Marshal(openAIRequest{
		Model:    req.Model,
		Messages: []openAIMessage{{Role: "user", Content: req.Query}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to %s: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		// Watchdog enforces the per-chunk read timeout by cancelling the
		// request context; reset on every received line.
		watchdog := time.AfterFunc(p.readTimeout, cancel)
		defer watchdog.Stop()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			watchdog.Reset(p.readTimeout)
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			var delta openAIDelta
			if err := json.Unmarshal([]byte(payload), &delta); err != nil {
				continue // tolerate unknown event shapes
			}
			if len(delta.Choices) == 0 || delta.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- Chunk{Content: delta.Choices[0].Delta.Content}:
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && streamCtx.Err() == nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("%s stream: %w", p.name, err)}:
			case <-streamCtx.Done():
			}
		}
	}()
	return ch, nil
}
