package ai

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI-compatible chat-completions endpoint.
// With a custom base URL it also serves Groq-hosted models.
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIProvider(name, apiKey, baseURL, model string, temperature float32, maxTokens int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New(name + ": api key is required")
	}
	if model == "" {
		return nil, errors.New(name + ": model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", providerErr(p.name, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", providerErr(p.name, errors.New("response has no textual content"))
	}
	return resp.Choices[0].Message.Content, nil
}
