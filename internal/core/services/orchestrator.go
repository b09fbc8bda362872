package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/core/ports/driving"
	"github.com/custodia-labs/memweave/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.MemoryService = (*Orchestrator)(nil)

// Dependencies are the optional driven ports the orchestrator uses.
// Any of them may be nil.
type Dependencies struct {
	Anchorer       driven.Anchorer
	SyncStates     driven.SyncStateStore
	SchedulerStore driven.SchedulerStore
	Snapshots      driven.SnapshotStore
	Policies       []driven.InconsistencyPolicy
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Orchestrator is the boundary collaborators call. It owns the registry,
// the unified index and every service built on them.
type Orchestrator struct {
	cfg         domain.OrchestratorConfig
	registry    *Registry
	index       *UnifiedIndex
	anchors     *AnchorService
	writer      *Writer
	searcher    *SearchService
	fusion      *FusionService
	reconciler  *Reconciler
	snapshotter *Snapshotter

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewOrchestrator wires the services. Backends are registered separately.
func NewOrchestrator(cfg domain.Config, deps Dependencies) *Orchestrator {
	cfg.ApplyDefaults()
	oc := cfg.Orchestrator

	registry := NewRegistry()
	index := NewUnifiedIndex()
	anchors := NewAnchorService(deps.Anchorer, cfg.Anchor)
	tel := newTelemetry(deps.TracerProvider, deps.MeterProvider)

	o := &Orchestrator{
		cfg:      oc,
		registry: registry,
		index:    index,
		anchors:  anchors,
		writer:   NewWriter(registry, index, anchors, oc.WriteTimeout),
		searcher: NewSearchService(registry, index, oc.SearchTimeout, oc.DefaultLimit),
		fusion:   NewFusionService(index, deps.Policies...),
		reconciler: NewReconciler(registry, index, deps.SyncStates, deps.SchedulerStore, ReconcilerConfig{
			TickTimeout: oc.ReconcileTimeout,
			Lookback:    oc.ReconcileLookback,
			Concurrency: oc.PropagationConcurrency,
		}),
	}
	o.writer.tel = tel
	o.searcher.tel = tel
	o.fusion.tel = tel
	o.reconciler.tel = tel
	anchors.Start(func(rec domain.Record, ref string) {
		index.MarkAnchored(rec.ID, rec.IntegrityHash, ref)
	})
	if deps.Snapshots != nil {
		o.snapshotter = NewSnapshotter(index, deps.Snapshots, cfg.Snapshot.Interval)
	}
	return o
}

// begin registers an in-flight operation. Fails once shutdown has started.
func (o *Orchestrator) begin() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return domain.ErrClosed
	}
	o.inflight.Add(1)
	return nil
}

func (o *Orchestrator) end() {
	o.inflight.Done()
}

// Store writes a new record to every backend.
func (o *Orchestrator) Store(ctx context.Context, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	if err := o.begin(); err != nil {
		return domain.StoreResult{}, err
	}
	defer o.end()
	return o.writer.Store(ctx, content, metadata)
}

// Replace re-stores an existing record with new content.
func (o *Orchestrator) Replace(ctx context.Context, id, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	if err := o.begin(); err != nil {
		return domain.StoreResult{}, err
	}
	defer o.end()
	return o.writer.Replace(ctx, id, content, metadata)
}

// Search fans a query out and fuses the hits.
func (o *Orchestrator) Search(ctx context.Context, query string, opts domain.SearchOptions) (domain.SearchResponse, error) {
	if err := o.begin(); err != nil {
		return domain.SearchResponse{}, err
	}
	defer o.end()
	return o.searcher.Search(ctx, query, opts)
}

// Fuse correlates the named records.
func (o *Orchestrator) Fuse(ctx context.Context, ids []string, kind domain.FusionKind) (domain.FusionReport, error) {
	if err := o.begin(); err != nil {
		return domain.FusionReport{}, err
	}
	defer o.end()
	return o.fusion.Fuse(ctx, ids, kind)
}

// Get returns the canonical record for an ID.
func (o *Orchestrator) Get(_ context.Context, id string) (domain.Record, error) {
	rec, ok := o.index.Get(id)
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

// Verify recomputes the integrity hash of an indexed record.
func (o *Orchestrator) Verify(ctx context.Context, id string) (bool, error) {
	rec, err := o.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return VerifyRecord(rec), nil
}

// RetryAnchors retries every pending anchor and returns how many succeeded.
func (o *Orchestrator) RetryAnchors(ctx context.Context) (int, error) {
	if err := o.begin(); err != nil {
		return 0, err
	}
	defer o.end()

	n := 0
	for _, id := range o.anchors.Pending() {
		rec, ok := o.index.Get(id)
		if !ok {
			o.anchors.Forget(id)
			continue
		}
		if ref, ok := o.anchors.Anchor(ctx, rec); ok {
			o.index.MarkAnchored(rec.ID, rec.IntegrityHash, ref)
			n++
		}
	}
	return n, nil
}

// RegisterBackend adds a backend. If reconciliation is running, its task starts.
func (o *Orchestrator) RegisterBackend(ctx context.Context, descriptor domain.BackendDescriptor, backend driven.Backend) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	if err := o.registry.Register(descriptor, backend); err != nil {
		return err
	}
	o.reconciler.Add(ctx, descriptor.Name)
	logger.Info("registry: registered %s (role %s, priority %d)", descriptor.Name, descriptor.Role, descriptor.Priority)
	return nil
}

// DeregisterBackend stops the backend's task and disconnects it.
func (o *Orchestrator) DeregisterBackend(ctx context.Context, name string) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	if _, ok := o.registry.Get(name); !ok {
		return fmt.Errorf("deregister %s: %w", name, domain.ErrNotFound)
	}
	o.reconciler.Remove(ctx, name)
	backend, err := o.registry.Deregister(name)
	if err != nil {
		return err
	}
	logger.Info("registry: deregistered %s", name)
	if err := backend.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect %s: %w", name, err)
	}
	return nil
}

// Backends returns descriptors ordered by priority then name.
func (o *Orchestrator) Backends() []domain.BackendDescriptor {
	return o.registry.Descriptors()
}

// Index exposes the unified index for inspection.
func (o *Orchestrator) Index() *UnifiedIndex {
	return o.index
}

// Reconciler exposes the reconciler for manual triggering.
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

// Start restores the index snapshot, then starts reconciliation and
// periodic snapshots.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.RestoreSnapshot(ctx); err != nil {
		logger.Warn("orchestrator: %v", err)
	}
	if err := o.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if o.snapshotter != nil {
		o.snapshotter.Start(ctx)
	}
	return nil
}

// RestoreSnapshot loads the index snapshot, if a snapshot store is configured.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context) error {
	if o.snapshotter == nil {
		return nil
	}
	_, err := o.snapshotter.Restore(ctx)
	return err
}

// Shutdown stops reconciliation, waits up to grace for in-flight operations,
// drains the anchor queue, writes a final snapshot and disconnects every
// backend exactly once.
// Calling it again is a no-op.
func (o *Orchestrator) Shutdown(ctx context.Context, grace time.Duration) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if grace <= 0 {
		grace = o.cfg.ShutdownGrace
	}
	logger.Info("orchestrator: shutting down (grace %s)", grace)

	_ = o.reconciler.Stop()

	drained := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
		logger.Warn("orchestrator: grace period elapsed with operations in flight")
	case <-ctx.Done():
	}

	// Cleanup still runs when the caller's context is already done.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	o.anchors.Stop(cctx)

	var errs []error
	if o.snapshotter != nil {
		if err := o.snapshotter.Stop(cctx); err != nil {
			errs = append(errs, err)
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, e := range o.registry.Drain() {
		g.Go(func() error {
			if err := e.Backend.Disconnect(cctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("disconnect %s: %w", e.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
