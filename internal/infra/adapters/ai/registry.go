package ai

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

// ProviderModel pairs a provider name with one of its model descriptors.
type ProviderModel struct {
	Provider string
	Model    model.ModelDescriptor
}

// Registry holds every known adapter by name plus the configured default.
// The default pointer is set rarely and read often; a RWMutex guards it.
// Adapter instances themselves are stateless after construction.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]adapter.AIProviderAdapter
	order       []string
	defaultName string
}

// NewRegistry registers all adapters and the configured default name.
// A default that is not registered is a deployment bug, reported by
// Default() rather than silently recovered.
func NewRegistry(defaultName string, adapters ...adapter.AIProviderAdapter) *Registry {
	r := &Registry{
		adapters:    make(map[string]adapter.AIProviderAdapter, len(adapters)),
		defaultName: normalizeProviderName(defaultName),
	}
	for _, a := range adapters {
		name := normalizeProviderName(a.Name())
		if _, dup := r.adapters[name]; dup {
			continue
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (adapter.AIProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalizeProviderName(name)]
	return a, ok
}

// Default returns the configured default adapter. A missing default is a
// configuration error, never a silent fallback.
func (r *Registry) Default() (adapter.AIProviderAdapter, error) {
	r.mu.RLock()
	name := r.defaultName
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &aierr.ConfigError{
			Provider: name,
			Reason:   fmt.Sprintf("default provider %q is not registered", name),
		}
	}
	return a, nil
}

// DefaultName returns the configured default provider name.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// SetDefault switches the default provider; name must be registered.
func (r *Registry) SetDefault(name string) error {
	n := normalizeProviderName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[n]; !ok {
		return &aierr.ConfigError{
			Provider: n,
			Reason:   fmt.Sprintf("cannot set default: provider %q is not registered", n),
		}
	}
	r.defaultName = n
	return nil
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Available returns the adapters whose credentials are present. Used by
// callers that present only usable backends; never fails.
func (r *Registry) Available() []adapter.AIProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []adapter.AIProviderAdapter
	for _, name := range r.order {
		if a := r.adapters[name]; a.IsConfigured() {
			out = append(out, a)
		}
	}
	return out
}

// AllModels flattens the catalogs of every available adapter into
// (provider, descriptor) pairs, sorted by provider then catalog order.
func (r *Registry) AllModels() []ProviderModel {
	avail := r.Available()
	sort.SliceStable(avail, func(i, j int) bool { return avail[i].Name() < avail[j].Name() })
	var out []ProviderModel
	for _, a := range avail {
		for _, m := range a.Models() {
			out = append(out, ProviderModel{Provider: a.Name(), Model: m})
		}
	}
	return out
}

func normalizeProviderName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
