// Package registry implements connector.Registry: a read-only-after-init
// map from a destination's Type to the Connector that serves it (spec §2
// row 7, §5 "connector registry (read-only after init)").
package registry

import (
	"fmt"

	"github.com/formbridge/ingest/internal/port/connector"
)

// Registry implements connector.Registry.
type Registry struct {
	connectors map[string]connector.Connector
}

// New builds an empty registry. Register connectors with Register before
// serving traffic; the registry is not safe to mutate concurrently with
// Lookup calls, matching the "read-only after init" invariant.
func New() *Registry {
	return &Registry{connectors: make(map[string]connector.Connector)}
}

// Register binds destinationType to c. Registering the same type twice
// overwrites the previous binding.
func (r *Registry) Register(destinationType string, c connector.Connector) {
	r.connectors[destinationType] = c
}

// Lookup implements connector.Registry.
func (r *Registry) Lookup(destinationType string) (connector.Connector, bool) {
	c, ok := r.connectors[destinationType]
	return c, ok
}

// MustLookup panics if destinationType is unregistered; intended for
// wiring-time checks at startup, not request handling.
func (r *Registry) MustLookup(destinationType string) connector.Connector {
	c, ok := r.Lookup(destinationType)
	if !ok {
		panic(fmt.Sprintf("registry: no connector registered for type %q", destinationType))
	}
	return c
}

var _ connector.Registry = (*Registry)(nil)
