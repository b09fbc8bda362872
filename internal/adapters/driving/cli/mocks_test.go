package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/mock"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/core/ports/driving"
)

// mockMemoryService is a canned driving.MemoryService.
type mockMemoryService struct {
	storeResult domain.StoreResult
	searchResp  domain.SearchResponse
	report      domain.FusionReport
	record      domain.Record
	verified    bool
	backends    []domain.BackendDescriptor
	err         error

	lastContent  string
	lastMetadata domain.Metadata
	lastReplace  string
	lastOpts     domain.SearchOptions
	lastIDs      []string
	lastKind     domain.FusionKind
}

func (m *mockMemoryService) Store(_ context.Context, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	m.lastContent = content
	m.lastMetadata = metadata
	return m.storeResult, m.err
}

func (m *mockMemoryService) Replace(_ context.Context, id, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	m.lastReplace = id
	m.lastContent = content
	m.lastMetadata = metadata
	return m.storeResult, m.err
}

func (m *mockMemoryService) Search(_ context.Context, _ string, opts domain.SearchOptions) (domain.SearchResponse, error) {
	m.lastOpts = opts
	return m.searchResp, m.err
}

func (m *mockMemoryService) Fuse(_ context.Context, ids []string, kind domain.FusionKind) (domain.FusionReport, error) {
	m.lastIDs = ids
	m.lastKind = kind
	return m.report, m.err
}

func (m *mockMemoryService) Get(_ context.Context, _ string) (domain.Record, error) {
	return m.record, m.err
}

func (m *mockMemoryService) Verify(_ context.Context, _ string) (bool, error) {
	return m.verified, nil
}

func (m *mockMemoryService) RegisterBackend(_ context.Context, _ domain.BackendDescriptor, _ driven.Backend) error {
	return m.err
}

func (m *mockMemoryService) DeregisterBackend(_ context.Context, _ string) error {
	return m.err
}

func (m *mockMemoryService) Backends() []domain.BackendDescriptor {
	return m.backends
}

func (m *mockMemoryService) Shutdown(_ context.Context, _ time.Duration) error {
	return nil
}

// mockReconciler is a testify mock of driving.Reconciler.
type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockReconciler) Stop() error {
	return m.Called().Error(0)
}

func (m *mockReconciler) RunOnce(ctx context.Context, backend string) (domain.TaskResult, error) {
	args := m.Called(ctx, backend)
	return args.Get(0).(domain.TaskResult), args.Error(1)
}

func (m *mockReconciler) FullResync(ctx context.Context, backend string) (int, error) {
	args := m.Called(ctx, backend)
	return args.Int(0), args.Error(1)
}

func (m *mockReconciler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	args := m.Called(ctx)
	tasks, _ := args.Get(0).([]domain.ScheduledTask)
	return tasks, args.Error(1)
}

func (m *mockReconciler) History(ctx context.Context, backend string, limit int) ([]domain.TaskResult, error) {
	args := m.Called(ctx, backend, limit)
	results, _ := args.Get(0).([]domain.TaskResult)
	return results, args.Error(1)
}

// fakeRuntime records lifecycle calls made by the bootstrap path.
type fakeRuntime struct {
	memory     *mockMemoryService
	reconciler *mockReconciler

	hydrated bool
	served   bool
	closed   bool
}

func (f *fakeRuntime) Memory() driving.MemoryService  { return f.memory }
func (f *fakeRuntime) Reconciler() driving.Reconciler { return f.reconciler }

func (f *fakeRuntime) Hydrate(_ context.Context) error {
	f.hydrated = true
	return nil
}

func (f *fakeRuntime) Serve(ctx context.Context) error {
	f.served = true
	<-ctx.Done()
	return nil
}

func (f *fakeRuntime) Close(_ context.Context) error {
	f.closed = true
	return nil
}

// setupTestServices installs mock services and resets command flags
// afterwards.
func setupTestServices() (*mockMemoryService, *mockReconciler, func()) {
	mem := &mockMemoryService{
		storeResult: domain.StoreResult{
			ID:               "MEM_0123456789ABCDEF",
			IntegrityHash:    "abc123",
			BackendsAccepted: 1,
			BackendsTotal:    2,
			Outcomes: []domain.BackendOutcome{
				{Backend: "primary", Priority: 1, Status: domain.OutcomeSuccess},
				{Backend: "backup", Priority: 2, Status: domain.OutcomeFailure, Error: "deadline exceeded"},
			},
		},
		searchResp: domain.SearchResponse{
			Results: []domain.SearchResult{{
				Record: domain.Record{
					ID:        "MEM_0123456789ABCDEF",
					Content:   "the vehicle was red",
					Namespace: "case-7",
				},
				Score:                0.92,
				ContributingBackends: []string{"primary", "semantic"},
			}},
			Contributing: []string{"primary", "semantic"},
		},
		backends: []domain.BackendDescriptor{
			{Name: "primary", Kind: "sqlite", Role: domain.RolePrimary, Priority: 1, ReconcileInterval: 30 * time.Second},
			{Name: "backup", Kind: "objectstore", Role: domain.RoleBackup, Priority: 2, ReconcileInterval: time.Minute},
		},
	}
	rec := &mockReconciler{}
	color.NoColor = true

	oldMemory, oldReconciler := memoryService, reconcilerService
	memoryService = mem
	reconcilerService = rec

	return mem, rec, func() {
		memoryService = oldMemory
		reconcilerService = oldReconciler
		resetFlags()
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}
}

func resetFlags() {
	storeNamespace, storeMeta, storeReplace, storeJSON = "", nil, "", false
	searchLimit, searchNamespace, searchMeta, searchJSON = 10, "", nil, false
	getVerify, getJSON = false, false
	fuseKind, fuseJSON = string(domain.FusionContradiction), false
	backendsJSON = false
	reconcileAll, reconcileFull, tasksJSON, tasksHistory = false, false, false, 0
}
