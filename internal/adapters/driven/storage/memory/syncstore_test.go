package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestNewSyncStateStore(t *testing.T) {
	store := NewSyncStateStore()
	require.NotNil(t, store)
	assert.NotNil(t, store.states)
}

func TestSyncStateStore_SaveAndGet(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Save(ctx, domain.SyncState{Backend: "primary", LastSync: now}))

	saved, err := store.Get(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", saved.Backend)
	assert.True(t, now.Equal(saved.LastSync))
}

func TestSyncStateStore_Save_Update(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	time1 := time.Now()
	time2 := time1.Add(time.Hour)
	require.NoError(t, store.Save(ctx, domain.SyncState{Backend: "backup", LastSync: time1}))
	require.NoError(t, store.Save(ctx, domain.SyncState{Backend: "backup", LastSync: time2}))

	saved, err := store.Get(ctx, "backup")
	require.NoError(t, err)
	assert.True(t, time2.Equal(saved.LastSync))
}

func TestSyncStateStore_Save_EmptyBackend(t *testing.T) {
	store := NewSyncStateStore()
	err := store.Save(context.Background(), domain.SyncState{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncStateStore_Get_NotFound(t *testing.T) {
	store := NewSyncStateStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncStateStore_Delete(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.SyncState{Backend: "vector"}))
	require.NoError(t, store.Delete(ctx, "vector"))

	_, err := store.Get(ctx, "vector")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "vector"))
}

func TestSyncStateStore_GetReturnsCopy(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	original := time.Now()
	require.NoError(t, store.Save(ctx, domain.SyncState{Backend: "primary", LastSync: original}))

	got, err := store.Get(ctx, "primary")
	require.NoError(t, err)
	got.LastSync = time.Time{}

	again, err := store.Get(ctx, "primary")
	require.NoError(t, err)
	assert.True(t, original.Equal(again.LastSync))
}

func TestSyncStateStore_Concurrency(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("b%d", i%5)
			_ = store.Save(ctx, domain.SyncState{Backend: name, LastSync: time.Now()})
			_, _ = store.Get(ctx, name)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		_, err := store.Get(ctx, fmt.Sprintf("b%d", i))
		assert.NoError(t, err)
	}
}
