package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestFanOut_AllSucceed(t *testing.T) {
	r := NewRegistry()
	registerMocks(t, r, newMockBackend("a"), newMockBackend("b"), newMockBackend("c"))

	results := fanOut(context.Background(), time.Second, "test", r.Entries(),
		func(_ context.Context, e BackendEntry) (string, error) {
			return "ok:" + e.Name(), nil
		})

	require.Len(t, results, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.True(t, results[i].Done)
		assert.NoError(t, results[i].Err)
		assert.Equal(t, "ok:"+name, results[i].Value)
	}
}

func TestFanOut_DeadlineAbandonsSlowBackend(t *testing.T) {
	r := NewRegistry()
	registerMocks(t, r, newMockBackend("fast"), newMockBackend("slow"))

	started := time.Now()
	results := fanOut(context.Background(), 50*time.Millisecond, "test", r.Entries(),
		func(ctx context.Context, e BackendEntry) (int, error) {
			if e.Name() == "slow" {
				<-ctx.Done()
				time.Sleep(200 * time.Millisecond)
				return 1, nil
			}
			return 1, nil
		})

	assert.Less(t, time.Since(started), 150*time.Millisecond, "does not wait for abandoned tasks")
	assert.NoError(t, results[0].Err)
	assert.False(t, results[1].Done)
	assert.True(t, errors.Is(results[1].Err, domain.ErrBackendUnavailable))
	assert.Equal(t, domain.OutcomeFailure, results[1].outcome().Status)
}

func TestFanOut_ErrorsAreIsolated(t *testing.T) {
	r := NewRegistry()
	registerMocks(t, r, newMockBackend("good"), newMockBackend("bad"))

	results := fanOut(context.Background(), time.Second, "write", r.Entries(),
		func(_ context.Context, e BackendEntry) (int, error) {
			if e.Name() == "bad" {
				return 0, domain.ErrBackendRejected
			}
			return 1, nil
		})

	assert.NoError(t, results[0].Err)
	var be *domain.BackendError
	require.True(t, errors.As(results[1].Err, &be))
	assert.Equal(t, "bad", be.Backend)
	assert.Equal(t, "write", be.Op)
	assert.True(t, errors.Is(results[1].Err, domain.ErrBackendRejected))
}

func TestFanOut_RecoversPanics(t *testing.T) {
	r := NewRegistry()
	registerMocks(t, r, newMockBackend("boom"))

	results := fanOut(context.Background(), time.Second, "test", r.Entries(),
		func(context.Context, BackendEntry) (int, error) {
			panic("adapter bug")
		})

	assert.True(t, errors.Is(results[0].Err, domain.ErrBackendUnavailable))
}

func TestFanOut_Empty(t *testing.T) {
	results := fanOut(context.Background(), time.Second, "test", nil,
		func(context.Context, BackendEntry) (int, error) { return 0, nil })
	assert.Empty(t, results)
}
