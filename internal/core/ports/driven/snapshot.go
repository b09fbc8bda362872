package driven

import (
	"context"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// SnapshotStore persists point-in-time copies of the unified index.
type SnapshotStore interface {
	// Save replaces the stored snapshot.
	Save(ctx context.Context, records []domain.Record) error

	// Load returns the stored snapshot.
	// Returns domain.ErrNotFound if no snapshot exists.
	Load(ctx context.Context) ([]domain.Record, error)

	// Close releases resources.
	Close() error
}
