// Package registry tracks live connections and the display name each one has
// chosen. Every operation is guarded by a single lock so that handlers running
// for different connections observe a consistent view.
package registry

import (
	"strings"
	"sync"
)

// AnonymousName is returned for connections that never set a display name.
const AnonymousName = "Anonymous"

type entry[C any] struct {
	conn C
	name string
}

// Registry maps connection ids to their connection handle and display name.
// The zero value is not usable; create one with New.
type Registry[C any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[C]
}

// New returns an empty Registry.
func New[C any]() *Registry[C] {
	return &Registry[C]{entries: make(map[string]*entry[C])}
}

// Register adds conn under id with no display name. Registering an id that is
// already present replaces the entry instead of duplicating it.
func (r *Registry[C]) Register(id string, conn C) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = &entry[C]{conn: conn}
}

// SetName stores the trimmed name for id. It reports false and changes nothing
// when the name is blank or the id is unknown.
func (r *Registry[C]) SetName(id, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.name = name
	return true
}

// ResolveName returns the display name for id, or AnonymousName when the id is
// unknown or never named.
func (r *Registry[C]) ResolveName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[id]; ok && e.name != "" {
		return e.name
	}
	return AnonymousName
}

// Remove deletes id and returns the connection that was stored under it.
// Removing an unknown id is a no-op.
func (r *Registry[C]) Remove(id string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var zero C
		return zero, false
	}
	delete(r.entries, id)
	return e.conn, true
}

// RemoveIf deletes id only when match accepts the connection stored under it.
// It reports whether an entry was removed.
func (r *Registry[C]) RemoveIf(id string, match func(C) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || !match(e.conn) {
		return false
	}
	delete(r.entries, id)
	return true
}

// Lookup returns the connection registered under id.
func (r *Registry[C]) Lookup(id string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		var zero C
		return zero, false
	}
	return e.conn, true
}

// IDs returns a snapshot of the registered connection ids in no particular order.
func (r *Registry[C]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the registered connections at the moment of the call.
// Later Register or Remove calls do not affect the returned slice.
func (r *Registry[C]) Snapshot() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]C, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
