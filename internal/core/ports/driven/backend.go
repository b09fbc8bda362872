package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// WriteAck is a backend's acknowledgement of a write.
type WriteAck struct {
	// NativeID is the backend's own identifier for the record, if any.
	NativeID string
}

// Backend is the capability set every storage/search system implements.
// Every call is bounded by the context deadline the orchestrator supplies.
// Errors should wrap domain.ErrBackendUnavailable or domain.ErrBackendRejected.
type Backend interface {
	// Write persists a single record.
	Write(ctx context.Context, record domain.Record) (WriteAck, error)

	// Search returns hits ordered by backend-native score, best first.
	// No results is an empty slice, never an error.
	Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error)

	// PullDelta returns records changed strictly after since.
	PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error)

	// BulkApply upserts records and returns how many were applied.
	BulkApply(ctx context.Context, records []domain.Record) (int, error)

	// Disconnect releases resources. Safe to call more than once.
	Disconnect(ctx context.Context) error
}

// BackendFactory creates backends from descriptors.
type BackendFactory interface {
	// Create builds the adapter selected by descriptor.Kind.
	// Returns domain.ErrUnsupportedType for unknown kinds.
	Create(ctx context.Context, descriptor domain.BackendDescriptor) (Backend, error)

	// SupportedKinds lists the kinds Create accepts.
	SupportedKinds() []string
}
