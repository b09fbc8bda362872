package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestAnchorService_Disabled(t *testing.T) {
	s := NewAnchorService(nil, domain.AnchorConfig{})
	assert.False(t, s.Enabled())

	_, ok := s.Anchor(context.Background(), testRecord("MEM_1", "x", "ns", t0))
	assert.False(t, ok)
	assert.Empty(t, s.Pending(), "nothing queued when disabled")

	var nilSvc *AnchorService
	assert.False(t, nilSvc.Enabled())
}

func TestAnchorService_FailureQueuesAndSuccessClears(t *testing.T) {
	a := &mockAnchorer{err: errors.New("unreachable")}
	s := NewAnchorService(a, domain.AnchorConfig{RatePerSecond: 100, Timeout: time.Second})
	rec := testRecord("MEM_1", "x", "ns", t0)

	_, ok := s.Anchor(context.Background(), rec)
	assert.False(t, ok)
	assert.Equal(t, []string{"MEM_1"}, s.Pending())

	a.setErr(nil)
	ref, ok := s.Anchor(context.Background(), rec)
	assert.True(t, ok)
	assert.NotEmpty(t, ref)
	assert.Empty(t, s.Pending())
}

func TestAnchorService_CancelledContextQueues(t *testing.T) {
	s := NewAnchorService(&mockAnchorer{}, domain.AnchorConfig{RatePerSecond: 0.001})
	ctx := context.Background()

	// Exhaust the single token, then a cancelled wait must fail fast.
	_, ok := s.Anchor(ctx, testRecord("MEM_1", "x", "ns", t0))
	assert.True(t, ok)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, ok = s.Anchor(cctx, testRecord("MEM_2", "y", "ns", t0))
	assert.False(t, ok)
	assert.Equal(t, []string{"MEM_2"}, s.Pending())

	s.Forget("MEM_2")
	assert.Empty(t, s.Pending())
}

func TestAnchorService_WorkerMarksPublished(t *testing.T) {
	s := NewAnchorService(&mockAnchorer{}, domain.AnchorConfig{RatePerSecond: 100, Timeout: time.Second})
	var (
		mu     sync.Mutex
		marked = map[string]string{}
	)
	s.Start(func(rec domain.Record, ref string) {
		mu.Lock()
		marked[rec.ID] = ref
		mu.Unlock()
	})

	s.Enqueue(testRecord("MEM_1", "x", "ns", t0))
	s.Enqueue(testRecord("MEM_2", "y", "ns", t0))
	s.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, marked, 2, "stop drains the queue")
	assert.NotEmpty(t, marked["MEM_1"])
	assert.Empty(t, s.Pending())
}

func TestAnchorService_EnqueueWithoutWorkerGoesPending(t *testing.T) {
	s := NewAnchorService(&mockAnchorer{}, domain.AnchorConfig{RatePerSecond: 100})

	s.Enqueue(testRecord("MEM_1", "x", "ns", t0))
	assert.Equal(t, []string{"MEM_1"}, s.Pending())

	s.Start(nil)
	s.Stop(context.Background())
	s.Enqueue(testRecord("MEM_2", "y", "ns", t0))
	assert.Equal(t, []string{"MEM_1", "MEM_2"}, s.Pending(), "after stop nothing is published")
}

func TestAnchorService_StopDeadlineMovesQueueToPending(t *testing.T) {
	s := NewAnchorService(&mockAnchorer{delay: time.Hour}, domain.AnchorConfig{RatePerSecond: 100})
	s.Start(func(domain.Record, string) {})

	s.Enqueue(testRecord("MEM_1", "x", "ns", t0))
	s.Enqueue(testRecord("MEM_2", "y", "ns", t0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"MEM_1", "MEM_2"}, s.Pending())
}
