package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry maps logical model names to providers. It is populated once
// at startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return p, nil
}

// GetResponse resolves the model name and forwards the history to its
// provider, propagating either error unchanged.
func (r *Registry) GetResponse(ctx context.Context, name string, history []Message) (string, error) {
	p, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return p.Chat(ctx, history)
}
