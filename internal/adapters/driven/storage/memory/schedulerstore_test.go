package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	missing, err := store.GetTask(ctx, "reconcile:primary")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "reconcile:primary", Backend: "primary"}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "reconcile:backup", Backend: "backup"}))

	task, err := store.GetTask(ctx, "reconcile:primary")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "primary", task.Backend)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "reconcile:backup", tasks[0].ID)

	require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{TaskID: "reconcile:backup", Success: true}))
	require.NoError(t, store.DeleteTask(ctx, "reconcile:backup"))
	tasks, err = store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	history, err := store.GetTaskHistory(ctx, "reconcile:backup", 10)
	require.NoError(t, err)
	assert.Empty(t, history, "history goes with the task")
}

func TestSchedulerStore_NilInputs(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.SaveTask(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, store.RecordResult(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_HistoryAndPrune(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
			TaskID:         "reconcile:primary",
			StartedAt:      base.Add(time.Duration(i) * time.Second),
			ItemsProcessed: i,
		}))
	}

	history, err := store.GetTaskHistory(ctx, "reconcile:primary", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].ItemsProcessed)
	assert.Equal(t, 3, history[1].ItemsProcessed)

	require.NoError(t, store.PruneHistory(ctx, 3))
	history, err = store.GetTaskHistory(ctx, "reconcile:primary", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[2].ItemsProcessed)
}
