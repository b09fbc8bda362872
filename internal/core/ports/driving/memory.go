package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// MemoryService is the orchestrator boundary used by collaborators.
type MemoryService interface {
	// Store writes a new record to every backend and commits it to the index.
	// Fails only on invalid input, an empty registry, or total backend failure.
	Store(ctx context.Context, content string, metadata domain.Metadata) (domain.StoreResult, error)

	// Replace re-stores an existing record under the same ID with new content.
	Replace(ctx context.Context, id, content string, metadata domain.Metadata) (domain.StoreResult, error)

	// Search fans a query out to every backend and fuses the hits.
	Search(ctx context.Context, query string, opts domain.SearchOptions) (domain.SearchResponse, error)

	// Fuse correlates the named records under the selected policy.
	Fuse(ctx context.Context, ids []string, kind domain.FusionKind) (domain.FusionReport, error)

	// Get returns the canonical record for an ID.
	Get(ctx context.Context, id string) (domain.Record, error)

	// Verify recomputes a record's integrity hash and compares it.
	Verify(ctx context.Context, id string) (bool, error)

	// RegisterBackend adds a backend and starts its reconciliation task.
	RegisterBackend(ctx context.Context, descriptor domain.BackendDescriptor, backend driven.Backend) error

	// DeregisterBackend stops reconciliation for a backend and disconnects it.
	DeregisterBackend(ctx context.Context, name string) error

	// Backends returns descriptors ordered by priority then name.
	Backends() []domain.BackendDescriptor

	// Shutdown stops reconciliation, waits up to grace for in-flight
	// operations, then disconnects every backend.
	Shutdown(ctx context.Context, grace time.Duration) error
}
