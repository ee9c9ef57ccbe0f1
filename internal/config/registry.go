package config

import (
	"fmt"
	"sync"

	"github.com/voxlate/voxlate/pkg/interp"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = fmt.Errorf("config: provider not registered")

// ProviderFactory constructs an interpretation provider from its config entry.
type ProviderFactory func(entry ProviderEntry) (interp.Provider, error)

// Registry maps interpretation provider names to factories. It decouples the
// entry point from concrete provider packages so tests can register mocks.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register adds factory under name, replacing any previous registration.
func (r *Registry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds the provider named by entry.Name.
func (r *Registry) Create(entry ProviderEntry) (interp.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
