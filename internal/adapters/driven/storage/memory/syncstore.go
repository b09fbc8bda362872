// Package memory provides in-memory implementations of the orchestrator state stores.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Ensure SyncStateStore implements the interface.
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore is an in-memory implementation of driven.SyncStateStore.
type SyncStateStore struct {
	mu     sync.RWMutex
	states map[string]domain.SyncState
}

// NewSyncStateStore creates a new in-memory sync state store.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{
		states: make(map[string]domain.SyncState),
	}
}

// Save stores or updates the checkpoint for a backend.
func (s *SyncStateStore) Save(_ context.Context, state domain.SyncState) error {
	if state.Backend == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Backend] = state
	return nil
}

// Get retrieves the checkpoint for a backend.
func (s *SyncStateStore) Get(_ context.Context, backend string) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[backend]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &state, nil
}

// Delete removes the checkpoint for a backend.
func (s *SyncStateStore) Delete(_ context.Context, backend string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, backend)
	return nil
}
