package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrProviderNotFound = errors.New("core: provider not registered")

// ProviderRegistry holds provider adapters keyed by id. Ids are matched
// case-insensitively.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry(providers ...Provider) *ProviderRegistry {
	registry := &ProviderRegistry{providers: make(map[string]Provider)}
	for _, provider := range providers {
		_ = registry.Register(provider)
	}
	return registry
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	id := normalizeProviderID(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	id := normalizeProviderID(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	return provider, ok
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	providers := make([]Provider, 0, len(keys))
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	return providers
}

// ListByKind returns the registered providers of one variant.
func (r *ProviderRegistry) ListByKind(kind ProviderKind) []Provider {
	out := []Provider{}
	for _, provider := range r.List() {
		if provider.Kind() == kind {
			out = append(out, provider)
		}
	}
	return out
}

func normalizeProviderID(providerID string) string {
	return strings.ToLower(strings.TrimSpace(providerID))
}
