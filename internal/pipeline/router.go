package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoBackend is returned when neither the requested engine nor the
// fallback engine is registered.
var ErrNoBackend = errors.New("no backend registered")

// Router is a generic backend dispatcher that maps engine names to backend implementations.
// Unknown engine names resolve to the fallback engine.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router with the given backends and a fallback engine name.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	if backends == nil {
		backends = make(map[string]T)
	}
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend for the given engine name, falling back to the default.
func (r *Router[T]) Route(engine string) (T, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("%w for engine %q", ErrNoBackend, engine)
}

// Has reports whether the router has a backend for the given engine name.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the sorted names of all registered backends.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
