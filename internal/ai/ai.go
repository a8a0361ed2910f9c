// Package ai wraps the hosted inference providers behind a uniform
// chat-completion contract and a model-name registry.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Message is the provider-neutral message shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is one hosted inference endpoint. Implementations are
// stateless aside from held credentials; one outbound call per Chat.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

var (
	// ErrModelNotFound means the logical model name has no registered
	// provider. Only detected at dispatch time.
	ErrModelNotFound = errors.New("model not found")

	// ErrProvider wraps upstream inference failures: transport errors,
	// non-2xx responses, or a response without textual content.
	ErrProvider = errors.New("provider error")
)

func providerErr(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProvider, provider, err)
}
