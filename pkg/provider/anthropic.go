package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sluiceio/sluice/pkg/types"
)

// Anthropic streams messages through the official SDK.
type Anthropic struct {
	name   string
	client anthropic.Client
}

// NewAnthropic is the Factory for the anthropic kind.
func NewAnthropic(spec types.ProviderSpec, _ Options) (Provider, error) {
	opts := []option.RequestOption{option.WithAPIKey(spec.APIKey)}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	return &Anthropic{
		name:   spec.Name,
		client: anthropic.NewClient(opts...),
	}, nil
}

// Name implements Provider.
func (p *Anthropic) Name() string { return p.name }

// Stream implements Provider.
func (p *Anthropic) Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)),
		},
	})

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if variant.Delta.Text == "" {
					continue
				}
				select {
				case ch <- Chunk{Content: variant.Delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("%s stream: %w", p.name, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
