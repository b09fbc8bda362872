package services

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// BackendEntry pairs a descriptor with its adapter.
type BackendEntry struct {
	Descriptor domain.BackendDescriptor
	Backend    driven.Backend
}

// Name returns the backend name.
func (e BackendEntry) Name() string {
	return e.Descriptor.Name
}

// Registry holds the registered backends.
// It can change at runtime; callers take a snapshot with Entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*BackendEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*BackendEntry)}
}

// Register adds a backend. Defaults are applied to the descriptor.
func (r *Registry) Register(descriptor domain.BackendDescriptor, backend driven.Backend) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	if backend == nil {
		return fmt.Errorf("%w: backend %s has no adapter", domain.ErrInvalidInput, descriptor.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[descriptor.Name]; exists {
		return fmt.Errorf("register %s: %w", descriptor.Name, domain.ErrAlreadyExists)
	}
	r.entries[descriptor.Name] = &BackendEntry{
		Descriptor: descriptor.WithDefaults(),
		Backend:    backend,
	}
	return nil
}

// Deregister removes a backend and returns its adapter.
func (r *Registry) Deregister(name string) (driven.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("deregister %s: %w", name, domain.ErrNotFound)
	}
	delete(r.entries, name)
	return e.Backend, nil
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (BackendEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return BackendEntry{}, false
	}
	return *e, true
}

// Entries returns a snapshot ordered by priority, then name.
func (r *Registry) Entries() []BackendEntry {
	r.mu.RLock()
	out := make([]BackendEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Descriptor, out[j].Descriptor
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
	return out
}

// Descriptors returns descriptors ordered by priority, then name.
func (r *Registry) Descriptors() []domain.BackendDescriptor {
	entries := r.Entries()
	out := make([]domain.BackendDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.Descriptor
	}
	return out
}

// Priorities returns a name to priority map for the current backends.
func (r *Registry) Priorities() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.Descriptor.Priority
	}
	return out
}

// Priority returns the priority of name, or math.MaxInt if unknown.
func (r *Registry) Priority(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok {
		return e.Descriptor.Priority
	}
	return math.MaxInt
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetLastSync updates the sync high-water mark for a backend.
// Only the reconciliation task for that backend calls this.
func (r *Registry) SetLastSync(name string, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.Descriptor.LastSync = t
	return true
}

// Drain removes every backend and returns them in priority order.
func (r *Registry) Drain() []BackendEntry {
	entries := r.Entries()
	r.mu.Lock()
	r.entries = make(map[string]*BackendEntry)
	r.mu.Unlock()
	return entries
}
