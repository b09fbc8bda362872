package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/core/ports/driving"
	"github.com/custodia-labs/memweave/internal/logger"
)

// Ensure Reconciler implements the interface.
var _ driving.Reconciler = (*Reconciler)(nil)

// ReconcilerConfig tunes reconciliation ticks.
type ReconcilerConfig struct {
	// TickTimeout bounds one tick (pull plus propagation).
	TickTimeout time.Duration

	// Lookback is subtracted from LastSync for every pull, so writes that
	// land late with an older timestamp are still seen. Re-pulled records
	// are idempotent under last-writer-wins.
	Lookback time.Duration

	// Concurrency caps concurrent bulk applies to peers.
	Concurrency int
}

const defaultReconcileLookback = 10 * time.Second

// reconcileTask is the running loop for one backend.
type reconcileTask struct {
	stop chan struct{}
	done chan struct{}
}

// Reconciler runs one independent periodic task per backend. Each tick pulls
// the backend's delta, upserts it into the index and pushes it to every
// other backend. A slow or failing backend only delays its own task.
type Reconciler struct {
	registry    *Registry
	index       *UnifiedIndex
	checkpoints driven.SyncStateStore
	store       driven.SchedulerStore
	cfg         ReconcilerConfig
	tel         *telemetry
	now         func() time.Time

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup
	tasks   map[string]*reconcileTask

	tickMu sync.Map // backend name -> *sync.Mutex
}

// NewReconciler creates a reconciler. checkpoints and store are optional.
func NewReconciler(
	registry *Registry,
	index *UnifiedIndex,
	checkpoints driven.SyncStateStore,
	store driven.SchedulerStore,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultReconcileLookback
	}
	return &Reconciler{
		registry:    registry,
		index:       index,
		checkpoints: checkpoints,
		store:       store,
		cfg:         cfg,
		tel:         newTelemetry(nil, nil),
		now:         time.Now,
		tasks:       make(map[string]*reconcileTask),
	}
}

// Start launches a task for every registered backend and returns.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.baseCtx = ctx
	r.stopCh = make(chan struct{})

	r.pruneOrphanTasks(ctx)
	for _, e := range r.registry.Entries() {
		r.startTaskLocked(e.Descriptor)
	}
	logger.Info("reconciler: started %d tasks", len(r.tasks))
	return nil
}

// Stop signals every task and waits for in-progress ticks to finish.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.tasks = make(map[string]*reconcileTask)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Running reports whether Start has been called without Stop.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Add restores the checkpoint for a newly registered backend and, if the
// reconciler is running, starts its task.
func (r *Reconciler) Add(ctx context.Context, name string) {
	if err := r.restoreCheckpoint(ctx, name); err != nil {
		logger.Warn("reconciler: failed to restore checkpoint for %s: %v", name, err)
	}
	e, ok := r.registry.Get(name)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	if _, exists := r.tasks[name]; exists {
		return
	}
	r.startTaskLocked(e.Descriptor)
}

// Remove stops the task for a backend, waits for it to exit and marks the
// persisted task disabled. Its history is kept until the next Start.
func (r *Reconciler) Remove(ctx context.Context, name string) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if ok {
		delete(r.tasks, name)
	}
	r.mu.Unlock()
	if ok {
		close(t.stop)
		<-t.done
	}
	r.tickMu.Delete(name)
	r.disableTask(ctx, name)
}

func (r *Reconciler) disableTask(ctx context.Context, name string) {
	if r.store == nil {
		return
	}
	id := domain.ReconcileTaskID(name)
	task, err := r.store.GetTask(ctx, id)
	if err != nil || task == nil {
		return
	}
	task.Enabled = false
	task.NextRun = time.Time{}
	if err := r.store.SaveTask(ctx, task); err != nil {
		logger.Warn("reconciler: failed to disable task %s: %v", id, err)
	}
}

// pruneOrphanTasks deletes persisted tasks, and their history, for
// backends that are no longer registered.
func (r *Reconciler) pruneOrphanTasks(ctx context.Context) {
	if r.store == nil {
		return
	}
	tasks, err := r.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("reconciler: failed to list tasks: %v", err)
		return
	}
	for _, t := range tasks {
		if !strings.HasPrefix(t.ID, domain.ReconcileTaskPrefix) {
			continue
		}
		if _, ok := r.registry.Get(t.Backend); ok {
			continue
		}
		if err := r.store.DeleteTask(ctx, t.ID); err != nil {
			logger.Warn("reconciler: failed to delete task %s: %v", t.ID, err)
			continue
		}
		logger.Debug("reconciler: deleted task %s for unregistered backend", t.ID)
	}
}

func (r *Reconciler) startTaskLocked(d domain.BackendDescriptor) {
	if err := r.restoreCheckpoint(r.baseCtx, d.Name); err != nil {
		logger.Warn("reconciler: failed to restore checkpoint for %s: %v", d.Name, err)
	}
	if err := r.ensureTask(r.baseCtx, d); err != nil {
		logger.Warn("reconciler: failed to initialise task for %s: %v", d.Name, err)
	}

	t := &reconcileTask{stop: make(chan struct{}), done: make(chan struct{})}
	r.tasks[d.Name] = t
	r.wg.Add(1)
	go r.loop(r.baseCtx, d.Name, d.ReconcileInterval, t, r.stopCh)
}

// loop runs ticks for one backend until stopped.
func (r *Reconciler) loop(ctx context.Context, name string, interval time.Duration, t *reconcileTask, stopAll <-chan struct{}) {
	defer r.wg.Done()
	defer close(t.done)

	if interval <= 0 {
		interval = domain.RoleCognitive.DefaultReconcileInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopAll:
			return
		case <-t.stop:
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx, name); err != nil {
				logger.Warn("reconciler: %s: %v", name, err)
			}
		}
	}
}

// restoreCheckpoint raises LastSync to the persisted checkpoint, if later.
func (r *Reconciler) restoreCheckpoint(ctx context.Context, name string) error {
	if r.checkpoints == nil {
		return nil
	}
	state, err := r.checkpoints.Get(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if e, ok := r.registry.Get(name); ok && state.LastSync.After(e.Descriptor.LastSync) {
		r.registry.SetLastSync(name, state.LastSync)
	}
	return nil
}

// ensureTask creates or updates the persisted task for a backend.
func (r *Reconciler) ensureTask(ctx context.Context, d domain.BackendDescriptor) error {
	if r.store == nil {
		return nil
	}
	id := domain.ReconcileTaskID(d.Name)
	task, err := r.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     "Reconcile " + d.Name,
			Backend:  d.Name,
			Interval: d.ReconcileInterval,
			Enabled:  true,
			NextRun:  r.now().Add(d.ReconcileInterval),
		}
	} else {
		if task.Interval != d.ReconcileInterval {
			task.Interval = d.ReconcileInterval
			task.NextRun = r.now().Add(d.ReconcileInterval)
		}
		task.Enabled = true
	}
	return r.store.SaveTask(ctx, task)
}

func (r *Reconciler) lockFor(name string) *sync.Mutex {
	m, _ := r.tickMu.LoadOrStore(name, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// RunOnce performs one tick for a backend. Ticks for the same backend never
// overlap. The returned error is the pull error; propagation failures are
// counted in the result and logged.
func (r *Reconciler) RunOnce(ctx context.Context, name string) (domain.TaskResult, error) {
	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	entry, ok := r.registry.Get(name)
	if !ok {
		return domain.TaskResult{}, fmt.Errorf("reconcile %s: %w", name, domain.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()
	ctx, span := r.tel.start(ctx, "memweave.reconcile", attrBackend.String(name))

	result := domain.TaskResult{
		TaskID:    domain.ReconcileTaskID(name),
		StartedAt: r.now(),
	}
	err := r.tick(ctx, entry, &result)
	result.EndedAt = r.now()
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}
	endSpan(span, err)

	r.persistResult(ctx, entry.Descriptor, &result)
	return result, err
}

func (r *Reconciler) tick(ctx context.Context, entry BackendEntry, result *domain.TaskResult) error {
	name := entry.Name()
	since := entry.Descriptor.LastSync
	from := since
	if !since.IsZero() {
		from = since.Add(-r.cfg.Lookback)
	}

	records, err := entry.Backend.PullDelta(ctx, from)
	if err != nil {
		// LastSync stays put so the next tick retries the same window.
		return fmt.Errorf("pull delta: %w", domain.NewBackendError(name, "pull_delta", err))
	}
	result.ItemsProcessed = len(records)

	source := domain.BackendOutcome{
		Backend:  name,
		Priority: entry.Descriptor.Priority,
		Status:   domain.OutcomeSuccess,
	}
	highWater := since
	current := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.After(highWater) {
			highWater = rec.Timestamp
		}
		rec.Outcomes = domain.MergeOutcomes(rec.Outcomes, []domain.BackendOutcome{source})
		if !r.index.Upsert(rec).Applied() {
			continue
		}
		if cur, ok := r.index.Get(rec.ID); ok && cur.Timestamp.Equal(rec.Timestamp) {
			current = append(current, cur)
		}
	}

	if len(current) > 0 {
		result.PropagationFailures = r.propagate(ctx, name, current)
	}

	if highWater.After(since) {
		r.registry.SetLastSync(name, highWater)
		r.saveCheckpoint(ctx, name, highWater)
	}

	logger.Debug("reconciler: %s pulled %d records, %d current, %d peer failures",
		name, len(records), len(current), result.PropagationFailures)
	return nil
}

// propagate bulk-applies records to every backend except source and returns
// how many peers failed. A peer only receives the records its index outcome
// does not already show as accepted. A failing peer never stops the others.
func (r *Reconciler) propagate(ctx context.Context, source string, records []domain.Record) int {
	var (
		mu       sync.Mutex
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, peer := range r.registry.Entries() {
		if peer.Name() == source {
			continue
		}
		missing := make([]domain.Record, 0, len(records))
		for _, rec := range records {
			if o, ok := rec.Outcome(peer.Name()); ok && o.Succeeded() {
				continue
			}
			missing = append(missing, rec)
		}
		if len(missing) == 0 {
			continue
		}
		g.Go(func() error {
			_, err := peer.Backend.BulkApply(gctx, missing)
			if err != nil {
				logger.Warn("reconciler: propagate %s -> %s: %v", source, peer.Name(),
					domain.NewBackendError(peer.Name(), "bulk_apply", err))
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			ok := []domain.BackendOutcome{{
				Backend:  peer.Name(),
				Priority: peer.Descriptor.Priority,
				Status:   domain.OutcomeSuccess,
			}}
			for _, rec := range missing {
				r.index.MergeOutcomes(rec.ID, rec.Timestamp, ok)
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (r *Reconciler) saveCheckpoint(ctx context.Context, name string, t time.Time) {
	if r.checkpoints == nil {
		return
	}
	state := domain.SyncState{Backend: name, LastSync: t, UpdatedAt: r.now()}
	if err := r.checkpoints.Save(ctx, state); err != nil {
		logger.Warn("reconciler: failed to save checkpoint for %s: %v", name, err)
	}
}

// persistResult updates task state and history, as the result dictates.
func (r *Reconciler) persistResult(ctx context.Context, d domain.BackendDescriptor, result *domain.TaskResult) {
	if r.store == nil {
		return
	}
	// The tick context may have expired; persistence gets its own budget.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	task, err := r.store.GetTask(ctx, result.TaskID)
	if err != nil || task == nil {
		task = &domain.ScheduledTask{
			ID:       result.TaskID,
			Name:     "Reconcile " + d.Name,
			Backend:  d.Name,
			Interval: d.ReconcileInterval,
			Enabled:  true,
		}
	}
	task.LastRun = result.StartedAt
	task.NextRun = result.EndedAt.Add(task.Interval)
	if result.Success {
		task.LastError = ""
		task.LastSuccess = result.EndedAt
	} else {
		task.LastError = result.Error
	}

	if saveErr := r.store.SaveTask(ctx, task); saveErr != nil {
		logger.Warn("reconciler: failed to save task %s: %v", task.ID, saveErr)
	}
	if recordErr := r.store.RecordResult(ctx, result); recordErr != nil {
		logger.Warn("reconciler: failed to record result for %s: %v", task.ID, recordErr)
	}
	if pruneErr := r.store.PruneHistory(ctx, domain.TaskHistoryLimit); pruneErr != nil {
		logger.Warn("reconciler: failed to prune history: %v", pruneErr)
	}
}

// FullResync applies every indexed record to one backend.
func (r *Reconciler) FullResync(ctx context.Context, name string) (int, error) {
	entry, ok := r.registry.Get(name)
	if !ok {
		return 0, fmt.Errorf("resync %s: %w", name, domain.ErrNotFound)
	}
	records := r.index.Snapshot()
	if len(records) == 0 {
		return 0, nil
	}
	n, err := entry.Backend.BulkApply(ctx, records)
	if err != nil {
		return n, fmt.Errorf("resync %s: %w", name, domain.NewBackendError(name, "bulk_apply", err))
	}
	ok2 := []domain.BackendOutcome{{Backend: name, Priority: entry.Descriptor.Priority, Status: domain.OutcomeSuccess}}
	for _, rec := range records {
		r.index.MergeOutcomes(rec.ID, rec.Timestamp, ok2)
	}
	logger.Info("reconciler: resynced %d records to %s", n, name)
	return n, nil
}

// Tasks returns the state of every reconciliation task. Without a store,
// task state is derived from the registry.
func (r *Reconciler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	if r.store != nil {
		all, err := r.store.ListTasks(ctx)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, t := range all {
			if strings.HasPrefix(t.ID, domain.ReconcileTaskPrefix) {
				out = append(out, t)
			}
		}
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledTask
	for _, e := range r.registry.Entries() {
		_, active := r.tasks[e.Name()]
		out = append(out, domain.ScheduledTask{
			ID:       domain.ReconcileTaskID(e.Name()),
			Name:     "Reconcile " + e.Name(),
			Backend:  e.Name(),
			Interval: e.Descriptor.ReconcileInterval,
			LastRun:  e.Descriptor.LastSync,
			Enabled:  active,
		})
	}
	return out, nil
}

// History returns the most recent results for a backend's task, newest
// first. Without a store there is no history.
func (r *Reconciler) History(ctx context.Context, backend string, limit int) ([]domain.TaskResult, error) {
	if r.store == nil {
		return nil, nil
	}
	if limit <= 0 || limit > domain.TaskHistoryLimit {
		limit = domain.TaskHistoryLimit
	}
	return r.store.GetTaskHistory(ctx, domain.ReconcileTaskID(backend), limit)
}
