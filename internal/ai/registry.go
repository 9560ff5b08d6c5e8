package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// EmbedderFactory builds an embedder; an empty model means the provider default.
type EmbedderFactory func(ctx context.Context, model string) (Embedder, error)

// Registry maps provider names (case-insensitive) to factories.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]EmbedderFactory
}

func NewRegistry() *Registry {
	return &Registry{builders: map[string]EmbedderFactory{}}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(provider string, build EmbedderFactory) {
	r.mu.Lock()
	r.builders[providerKey(provider)] = build
	r.mu.Unlock()
}

// Providers lists registered names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Get(ctx context.Context, provider, model string) (Embedder, error) {
	r.mu.RLock()
	build, ok := r.builders[providerKey(provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not registered (have %s)", provider, strings.Join(r.Providers(), ", "))
	}
	return build(ctx, model)
}
