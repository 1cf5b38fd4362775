// Package registry provides a generic, thread-safe registry of named
// implementations. It backs the key/trust store loaders and the
// configuration store backends.
//
//	loaders := registry.New[StoreLoader]()
//	loaders.Register(pkcs12Loader)
//	l, err := loaders.Get("PKCS12")
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"outbound-router/internal/common/errors"
)

// Named is implemented by everything kept in a Registry.
type Named interface {
	// GetType returns the identifier the implementation is registered under
	GetType() string
}

// Registry maps type identifiers to implementations. Lookups are
// case-insensitive.
type Registry[T Named] struct {
	entries map[string]T
	mu      sync.RWMutex
}

// New creates an empty registry.
func New[T Named]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

func key(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Register adds impl under impl.GetType(), replacing any previous entry.
func (r *Registry[T]) Register(impl T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(impl.GetType())] = impl
}

// Get retrieves an implementation by type. Unknown types yield a not_found error.
func (r *Registry[T]) Get(t string) (T, error) {
	r.mu.RLock()
	impl, exists := r.entries[key(t)]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("type %q (available: %s)", t, strings.Join(r.Types(), ", ")))
	}

	return impl, nil
}

// Types returns the registered type identifiers, sorted.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for _, impl := range r.entries {
		types = append(types, impl.GetType())
	}
	sort.Strings(types)
	return types
}

// IsRegistered checks if a type is registered.
func (r *Registry[T]) IsRegistered(t string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[key(t)]
	return exists
}
