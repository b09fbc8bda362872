package driven

import (
	"context"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// SyncStateStore persists reconciliation checkpoints.
type SyncStateStore interface {
	// Save stores or updates the checkpoint for a backend.
	Save(ctx context.Context, state domain.SyncState) error

	// Get retrieves the checkpoint for a backend.
	// Returns domain.ErrNotFound if none exists.
	Get(ctx context.Context, backend string) (*domain.SyncState, error)

	// Delete removes the checkpoint for a backend.
	Delete(ctx context.Context, backend string) error
}
