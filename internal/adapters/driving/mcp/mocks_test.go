package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// mockMemoryService is a mock implementation of driving.MemoryService.
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
	lastQuery    string
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

func (m *mockMemoryService) Search(_ context.Context, query string, opts domain.SearchOptions) (domain.SearchResponse, error) {
	m.lastQuery = query
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
	return m.verified, m.err
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
	return m.err
}

// mockReconciler is a mock implementation of driving.Reconciler.
type mockReconciler struct {
	tasks   []domain.ScheduledTask
	history map[string][]domain.TaskResult
	err     error
}

func (m *mockReconciler) Start(_ context.Context) error { return m.err }
func (m *mockReconciler) Stop() error                   { return m.err }

func (m *mockReconciler) RunOnce(_ context.Context, _ string) (domain.TaskResult, error) {
	return domain.TaskResult{}, m.err
}

func (m *mockReconciler) FullResync(_ context.Context, _ string) (int, error) {
	return 0, m.err
}

func (m *mockReconciler) Tasks(_ context.Context) ([]domain.ScheduledTask, error) {
	return m.tasks, m.err
}

func (m *mockReconciler) History(_ context.Context, backend string, limit int) ([]domain.TaskResult, error) {
	h := m.history[backend]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, m.err
}
