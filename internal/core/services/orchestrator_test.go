package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func newTestOrchestrator(t *testing.T, deps Dependencies, backends ...*mockBackend) *Orchestrator {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Orchestrator.WriteTimeout = 100 * time.Millisecond
	cfg.Orchestrator.SearchTimeout = 100 * time.Millisecond
	o := NewOrchestrator(cfg, deps)
	for i, b := range backends {
		require.NoError(t, o.RegisterBackend(context.Background(), domain.BackendDescriptor{
			Name:              b.name,
			Kind:              "mock",
			Priority:          i + 1,
			ReconcileInterval: time.Hour,
		}, b))
	}
	return o
}

func TestOrchestrator_EvidenceScenario(t *testing.T) {
	b1, b2, b3 := newMockBackend("b1"), newMockBackend("b2"), newMockBackend("b3")
	b2.set(func(m *mockBackend) {
		m.writeErr = domain.ErrBackendUnavailable
		m.searchErr = domain.ErrBackendUnavailable
	})
	o := newTestOrchestrator(t, Dependencies{}, b1, b2, b3)
	ctx := context.Background()

	res, err := o.Store(ctx, "evidence-42", domain.Metadata{"namespace": "case-7"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.BackendsAccepted)
	assert.Equal(t, 3, res.BackendsTotal)

	resp, err := o.Search(ctx, "evidence", domain.SearchOptions{Namespace: "case-7"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, res.ID, resp.Results[0].Record.ID)
	assert.Equal(t, []string{"b1", "b3"}, resp.Results[0].ContributingBackends)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "b2", resp.Failed[0].Backend)

	// Backend 2 recovers; one reconciliation tick of backend 1 heals it.
	b2.set(func(m *mockBackend) {
		m.writeErr = nil
		m.searchErr = nil
	})
	_, err = o.Reconciler().RunOnce(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, b2.has(res.ID))

	rec, err := o.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, rec.FullyReplicated(3))

	ok, err := o.Verify(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrchestrator_StoreThenSearchThroughSingleBackend(t *testing.T) {
	a, b := newMockBackend("a"), newMockBackend("b")
	b.writeErr = domain.ErrBackendRejected
	o := newTestOrchestrator(t, Dependencies{}, a, b)

	res, err := o.Store(context.Background(), "quorum of one", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BackendsAccepted)

	resp, err := o.Search(context.Background(), "quorum", domain.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"a"}, resp.Results[0].ContributingBackends)
}

func TestOrchestrator_FuseAndReplace(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{}, newMockBackend("a"))
	ctx := context.Background()

	r1, err := o.Store(ctx, "statement", domain.Metadata{"namespace": "case-7", "location": "dock"})
	require.NoError(t, err)
	r2, err := o.Store(ctx, "log", domain.Metadata{"namespace": "case-7", "location": "dock"})
	require.NoError(t, err)

	report, err := o.Fuse(ctx, []string{r1.ID, r2.ID}, domain.FusionContradiction)
	require.NoError(t, err)
	assert.Empty(t, report.Contradictions)
	assert.Equal(t, 1.0, report.AdmissibilityScore)

	_, err = o.Replace(ctx, r2.ID, "log, corrected", domain.Metadata{"location": "warehouse"})
	require.NoError(t, err)

	report, err = o.Fuse(ctx, []string{r1.ID, r2.ID}, domain.FusionContradiction)
	require.NoError(t, err)
	assert.Len(t, report.Contradictions, 1)
}

func TestOrchestrator_RegisterDeregister(t *testing.T) {
	a := newMockBackend("a")
	o := newTestOrchestrator(t, Dependencies{}, a)
	ctx := context.Background()

	err := o.RegisterBackend(ctx, domain.BackendDescriptor{Name: "a"}, newMockBackend("a"))
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	require.NoError(t, o.DeregisterBackend(ctx, "a"))
	assert.Equal(t, 1, a.disconnects)
	assert.Empty(t, o.Backends())

	err = o.DeregisterBackend(ctx, "a")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = o.Store(ctx, "x", nil)
	assert.True(t, errors.Is(err, domain.ErrNoBackends))
}

func TestOrchestrator_Shutdown(t *testing.T) {
	a, b := newMockBackend("a"), newMockBackend("b")
	snaps := &mockSnapshotStore{}
	o := newTestOrchestrator(t, Dependencies{Snapshots: snaps}, a, b)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	_, err := o.Store(ctx, "before shutdown", nil)
	require.NoError(t, err)

	require.NoError(t, o.Shutdown(ctx, time.Second))
	require.NoError(t, o.Shutdown(ctx, time.Second), "second shutdown is a no-op")

	assert.Equal(t, 1, a.disconnects)
	assert.Equal(t, 1, b.disconnects)
	assert.True(t, snaps.closed)
	assert.Len(t, snaps.records, 1, "final snapshot written")
	assert.False(t, o.Reconciler().Running())

	_, err = o.Store(ctx, "after", nil)
	assert.True(t, errors.Is(err, domain.ErrClosed))
	_, err = o.Search(ctx, "after", domain.SearchOptions{})
	assert.True(t, errors.Is(err, domain.ErrClosed))
}

func TestOrchestrator_ShutdownWaitsForInflight(t *testing.T) {
	slow := newMockBackend("slow")
	slow.delay = 50 * time.Millisecond
	o := newTestOrchestrator(t, Dependencies{}, slow)

	var wg sync.WaitGroup
	wg.Add(1)
	var storeErr error
	go func() {
		defer wg.Done()
		_, storeErr = o.Store(context.Background(), "in flight", nil)
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, o.Shutdown(context.Background(), time.Second))
	wg.Wait()
	assert.NoError(t, storeErr)
	assert.Equal(t, 1, slow.disconnects)
}

func TestOrchestrator_SnapshotRestore(t *testing.T) {
	snaps := &mockSnapshotStore{}
	require.NoError(t, snaps.Save(context.Background(), []domain.Record{testRecord("MEM_OLD", "restored", "ns", t0)}))

	o := newTestOrchestrator(t, Dependencies{Snapshots: snaps}, newMockBackend("a"))
	require.NoError(t, o.RestoreSnapshot(context.Background()))

	rec, err := o.Get(context.Background(), "MEM_OLD")
	require.NoError(t, err)
	assert.Equal(t, "restored", rec.Content)
}

func TestOrchestrator_RetryAnchors(t *testing.T) {
	anchorer := &mockAnchorer{err: errors.New("offline")}
	o := newTestOrchestrator(t, Dependencies{Anchorer: anchorer}, newMockBackend("a"))
	ctx := context.Background()

	res, err := o.Store(ctx, "to anchor", nil)
	require.NoError(t, err)
	assert.False(t, res.Anchored)
	assert.Eventually(t, func() bool {
		return len(o.anchors.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	anchorer.setErr(nil)
	n, err := o.RetryAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := o.Get(ctx, res.ID)
	assert.True(t, rec.Anchored)
}

func TestOrchestrator_DeregisterDisablesTask(t *testing.T) {
	store := newMockSchedulerStore()
	o := newTestOrchestrator(t, Dependencies{SchedulerStore: store}, newMockBackend("a"), newMockBackend("b"))
	ctx := context.Background()
	require.NoError(t, o.Reconciler().Start(ctx))
	defer func() { _ = o.Reconciler().Stop() }()

	require.NoError(t, o.DeregisterBackend(ctx, "b"))

	tasks, err := o.Reconciler().Tasks(ctx)
	require.NoError(t, err)
	enabled := map[string]bool{}
	for _, task := range tasks {
		enabled[task.Backend] = task.Enabled
	}
	assert.Equal(t, map[string]bool{"a": true, "b": false}, enabled)
}

func TestOrchestrator_GetMissing(t *testing.T) {
	o := newTestOrchestrator(t, Dependencies{}, newMockBackend("a"))
	_, err := o.Get(context.Background(), "MEM_NONE")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = o.Verify(context.Background(), "MEM_NONE")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
