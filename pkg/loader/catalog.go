package loader

import (
	"sort"
	"sync"

	"github.com/aretw0/interplay/pkg/ports"
)

// Catalog maps adapter names to compiled-in constructors. Manifests bind to a
// catalog entry through their adapter field.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[string]ports.AdapterFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[string]ports.AdapterFunc)}
}

// Add installs a constructor, replacing any previous one with the same name.
func (c *Catalog) Add(name string, fn ports.AdapterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctors[name] = fn
}

// Lookup returns the constructor registered under name.
func (c *Catalog) Lookup(name string) (ports.AdapterFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.ctors[name]
	return fn, ok
}

// Names lists the installed adapter names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.ctors))
	for name := range c.ctors {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
