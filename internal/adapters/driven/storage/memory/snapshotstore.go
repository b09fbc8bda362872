package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/codec"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Ensure SnapshotStore implements the interface.
var _ driven.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore keeps the latest encoded index snapshot in memory.
// Records are encoded on save so callers cannot mutate a stored snapshot.
type SnapshotStore struct {
	mu     sync.RWMutex
	data   []byte
	saves  int
	closed bool
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(_ context.Context, records []domain.Record) error {
	data, err := codec.Encode(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.data = data
	s.saves++
	return nil
}

// Load returns the stored snapshot.
func (s *SnapshotStore) Load(_ context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()
	if data == nil {
		return nil, domain.ErrNotFound
	}
	return codec.DecodeBytes(data)
}

// Saves returns how many snapshots were written.
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close marks the store closed. Loads still succeed.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
