// Package registry holds the module factories known to the runtime, keyed by type name.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/aretw0/interplay/pkg/schema"
)

// Factory is everything needed to build instances of one module type.
// A Factory is immutable once registered; reloads register a new value.
type Factory struct {
	Manifest domain.Manifest
	Schema   *schema.Schema
	New      ports.AdapterFunc
	// Source is where the manifest came from (file path or "builtin:<name>").
	Source string
}

// Registry manages the available module types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Factory
	logger    *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger configures a logger for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a new empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]*Factory),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a factory to the registry.
// If a factory with the same type name exists, it is replaced and a warning is logged.
// Register does not validate the manifest.
func (r *Registry) Register(f *Factory) {
	r.mu.Lock()
	prev, exists := r.factories[f.Manifest.TypeName]
	r.factories[f.Manifest.TypeName] = f
	r.mu.Unlock()

	if exists {
		r.logger.Warn("module type registered twice, keeping the latest",
			"type", f.Manifest.TypeName,
			"previous_version", prev.Manifest.Version,
			"previous_source", prev.Source,
			"version", f.Manifest.Version,
			"source", f.Source,
		)
		return
	}
	r.logger.Debug("module type registered", "type", f.Manifest.TypeName, "version", f.Manifest.Version)
}

// Unregister removes a type. Removing an unknown type is a no-op.
func (r *Registry) Unregister(typeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, typeName)
}

// Get looks up a factory by type name.
// Returns an error wrapping domain.ErrModuleNotFound if the type is unknown.
func (r *Registry) Get(typeName string) (*Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrModuleNotFound, typeName)
	}
	return f, nil
}

// List returns the manifests of every registered type, sorted by type name.
func (r *Registry) List() []domain.Manifest {
	r.mu.RLock()
	out := make([]domain.Manifest, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Manifest)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
	return out
}
