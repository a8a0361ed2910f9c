package ai

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewAnthropicProvider(apiKey, model string, temperature float64, maxTokens int64) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicProvider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	// The Messages API takes system content as a top-level parameter,
	// not as a conversation turn.
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(m.Content),
			})
			continue
		}
		msgs = append(msgs, anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(m.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(m.Content),
				},
			}),
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(p.model),
		MaxTokens:   anthropic.F(p.maxTokens),
		Temperature: anthropic.F(p.temperature),
		Messages:    anthropic.F(msgs),
	}
	if len(system) > 0 {
		params.System = anthropic.F(system)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", providerErr("anthropic", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return "", providerErr("anthropic", errors.New("response has no textual content"))
	}
	return content, nil
}
