package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// --- Mock implementations for service testing ---

// mockBackend implements driven.Backend with an in-memory record map.
type mockBackend struct {
	mu          sync.Mutex
	name        string
	records     map[string]domain.Record
	hits        []domain.SearchHit
	delay       time.Duration
	writeErr    error
	searchErr   error
	pullErr     error
	applyErr    error
	writes      int
	applies     int
	disconnects int
}

var _ driven.Backend = (*mockBackend)(nil)

func newMockBackend(name string) *mockBackend {
	return &mockBackend{name: name, records: make(map[string]domain.Record)}
}

func (m *mockBackend) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, ctx.Err())
	}
}

func (m *mockBackend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if err := m.wait(ctx); err != nil {
		return driven.WriteAck{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return driven.WriteAck{}, m.writeErr
	}
	m.records[record.ID] = record.Clone()
	return driven.WriteAck{NativeID: m.name + "/" + record.ID}, nil
}

func (m *mockBackend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if m.hits != nil {
		return append([]domain.SearchHit(nil), m.hits...), nil
	}
	var out []domain.SearchHit
	for id, r := range m.records {
		if query.Namespace != "" && r.Namespace != query.Namespace {
			continue
		}
		if strings.Contains(strings.ToLower(r.Content), strings.ToLower(query.Text)) {
			out = append(out, domain.SearchHit{RecordID: id, Score: 1, Backend: m.name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

func (m *mockBackend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	var out []domain.Record
	for _, r := range m.records {
		if r.Timestamp.After(since) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockBackend) BulkApply(ctx context.Context, records []domain.Record) (int, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	if m.applyErr != nil {
		return 0, m.applyErr
	}
	n := 0
	for _, r := range records {
		if cur, ok := m.records[r.ID]; ok && !r.Timestamp.After(cur.Timestamp) {
			continue
		}
		m.records[r.ID] = r.Clone()
		n++
	}
	return n, nil
}

func (m *mockBackend) Disconnect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *mockBackend) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

func (m *mockBackend) applyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applies
}

func (m *mockBackend) put(r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r.Clone()
}

func (m *mockBackend) set(fn func(m *mockBackend)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// mockSchedulerStore implements driven.SchedulerStore for testing.
type mockSchedulerStore struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.ScheduledTask
	results  map[string][]domain.TaskResult
	saveErr  error
	listErr  error
	getErr   error
	pruneErr error
}

var _ driven.SchedulerStore = (*mockSchedulerStore)(nil)

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		tasks:   make(map[string]*domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

func (m *mockSchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	task, exists := m.tasks[taskID]
	if !exists {
		return nil, nil
	}
	taskCopy := *task
	return &taskCopy, nil
}

func (m *mockSchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	tasks := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (m *mockSchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if task == nil {
		return domain.ErrInvalidInput
	}
	taskCopy := *task
	m.tasks[task.ID] = &taskCopy
	return nil
}

func (m *mockSchedulerStore) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	delete(m.results, taskID)
	return nil
}

func (m *mockSchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result == nil {
		return domain.ErrInvalidInput
	}
	m.results[result.TaskID] = append(m.results[result.TaskID], *result)
	return nil
}

func (m *mockSchedulerStore) GetTaskHistory(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.results[taskID]
	results := make([]domain.TaskResult, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, all[i])
	}
	return results, nil
}

func (m *mockSchedulerStore) PruneHistory(_ context.Context, _ int) error {
	return m.pruneErr
}

// mockSyncStateStore implements driven.SyncStateStore for testing.
type mockSyncStateStore struct {
	mu     sync.Mutex
	states map[string]domain.SyncState
}

var _ driven.SyncStateStore = (*mockSyncStateStore)(nil)

func newMockSyncStateStore() *mockSyncStateStore {
	return &mockSyncStateStore{states: make(map[string]domain.SyncState)}
}

func (m *mockSyncStateStore) Save(_ context.Context, state domain.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Backend] = state
	return nil
}

func (m *mockSyncStateStore) Get(_ context.Context, backend string) (*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[backend]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *mockSyncStateStore) Delete(_ context.Context, backend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, backend)
	return nil
}

// mockAnchorer implements driven.Anchorer for testing.
type mockAnchorer struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	calls int
}

func (m *mockAnchorer) Anchor(ctx context.Context, record domain.Record) (driven.AnchorReceipt, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return driven.AnchorReceipt{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return driven.AnchorReceipt{}, m.err
	}
	return driven.AnchorReceipt{Ref: "anchor-" + record.IntegrityHash[:8]}, nil
}

func (m *mockAnchorer) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// mockSnapshotStore implements driven.SnapshotStore for testing.
type mockSnapshotStore struct {
	mu      sync.Mutex
	records []domain.Record
	saved   bool
	closed  bool
}

func (m *mockSnapshotStore) Save(_ context.Context, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]domain.Record(nil), records...)
	m.saved = true
	return nil
}

func (m *mockSnapshotStore) Load(_ context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, domain.ErrNotFound
	}
	return append([]domain.Record(nil), m.records...), nil
}

func (m *mockSnapshotStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// --- helpers ---

func testRecord(id, content, namespace string, ts time.Time) domain.Record {
	return domain.Record{
		ID:            id,
		Content:       content,
		Namespace:     namespace,
		Metadata:      domain.Metadata{domain.MetaNamespace: namespace},
		IntegrityHash: ComputeHash(content, namespace),
		Timestamp:     ts,
	}
}

func registerMocks(t interface{ Fatalf(string, ...any) }, r *Registry, backends ...*mockBackend) {
	for i, b := range backends {
		err := r.Register(domain.BackendDescriptor{
			Name:              b.name,
			Kind:              "mock",
			Role:              domain.RolePrimary,
			Priority:          i + 1,
			ReconcileInterval: time.Hour,
		}, b)
		if err != nil {
			t.Fatalf("register %s: %v", b.name, err)
		}
	}
}
