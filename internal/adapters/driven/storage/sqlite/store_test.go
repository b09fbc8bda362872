package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "memweave-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.Equal(t, "state.db", filepath.Base(store.Path()))
	_, err := os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestNewStore_MigrationsIdempotent(t *testing.T) {
	tempDir := t.TempDir()

	first, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, first.SyncStateStore().Save(context.Background(), domain.SyncState{
		Backend:  "primary",
		LastSync: time.Now(),
	}))
	require.NoError(t, first.Close())

	second, err := NewStore(tempDir)
	require.NoError(t, err)
	defer second.Close()

	state, err := second.SyncStateStore().Get(context.Background(), "primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", state.Backend)

	var applied int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

// ==================== SyncStateStore Tests ====================

func TestSyncStateStore_SaveAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	syncStore := store.SyncStateStore()

	lastSync := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, syncStore.Save(ctx, domain.SyncState{Backend: "primary", LastSync: lastSync}))

	state, err := syncStore.Get(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", state.Backend)
	assert.True(t, lastSync.Equal(state.LastSync), "nanoseconds must survive")
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestSyncStateStore_Update(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	syncStore := store.SyncStateStore()

	t1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	require.NoError(t, syncStore.Save(ctx, domain.SyncState{Backend: "backup", LastSync: t1}))
	require.NoError(t, syncStore.Save(ctx, domain.SyncState{Backend: "backup", LastSync: t2}))

	state, err := syncStore.Get(ctx, "backup")
	require.NoError(t, err)
	assert.True(t, t2.Equal(state.LastSync))
}

func TestSyncStateStore_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.SyncStateStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncStateStore_EmptyBackend(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.SyncStateStore().Save(context.Background(), domain.SyncState{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncStateStore_Delete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	syncStore := store.SyncStateStore()

	require.NoError(t, syncStore.Save(ctx, domain.SyncState{Backend: "vector", LastSync: time.Now()}))
	require.NoError(t, syncStore.Delete(ctx, "vector"))

	_, err := syncStore.Get(ctx, "vector")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting again is not an error
	assert.NoError(t, syncStore.Delete(ctx, "vector"))
}

// ==================== SnapshotStore Tests ====================

func TestSnapshotStore_LoadEmpty(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.SnapshotStore().Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshots := store.SnapshotStore()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []domain.Record{
		{ID: "MEM_A", Content: "evidence 42", Namespace: "case-7", IntegrityHash: "h1", Timestamp: ts},
		{ID: "MEM_B", Content: "witness statement", Namespace: "case-7", IntegrityHash: "h2", Timestamp: ts},
	}
	require.NoError(t, snapshots.Save(ctx, records))

	loaded, err := snapshots.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "MEM_A", loaded[0].ID)
	assert.Equal(t, "witness statement", loaded[1].Content)

	// Save replaces the previous snapshot
	require.NoError(t, snapshots.Save(ctx, records[:1]))
	loaded, err = snapshots.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestSnapshotStore_CloseLeavesDatabaseOpen(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, store.SnapshotStore().Close())
	_, err := store.SyncStateStore().Get(context.Background(), "primary")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
