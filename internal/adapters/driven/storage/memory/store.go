package memory

import "github.com/custodia-labs/memweave/internal/core/ports/driven"

// Store bundles the in-memory state stores behind the same accessors as
// the SQLite store. Nothing survives the process.
type Store struct {
	sched *SchedulerStore
	sync  *SyncStateStore
	snaps *SnapshotStore
}

// NewStore creates an empty in-memory state store.
func NewStore() *Store {
	return &Store{
		sched: NewSchedulerStore(),
		sync:  NewSyncStateStore(),
		snaps: NewSnapshotStore(),
	}
}

// SyncStateStore returns the sync checkpoint store.
func (s *Store) SyncStateStore() driven.SyncStateStore {
	return s.sync
}

// SchedulerStore returns the task store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return s.sched
}

// SnapshotStore returns the index snapshot store.
func (s *Store) SnapshotStore() driven.SnapshotStore {
	return s.snaps
}

// Close is a no-op; it exists so Store can stand in for the SQLite store.
func (s *Store) Close() error {
	return nil
}
