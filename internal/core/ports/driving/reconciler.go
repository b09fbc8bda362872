package driving

import (
	"context"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// Reconciler runs one periodic reconciliation task per backend.
type Reconciler interface {
	// Start launches a task for every registered backend.
	// Returns immediately; tasks run until Stop.
	Start(ctx context.Context) error

	// Stop signals every task to exit and waits for them.
	Stop() error

	// RunOnce performs a single reconciliation tick for one backend.
	RunOnce(ctx context.Context, backend string) (domain.TaskResult, error)

	// FullResync applies every indexed record to one backend.
	FullResync(ctx context.Context, backend string) (int, error)

	// Tasks returns the state of every reconciliation task.
	Tasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// History returns recent tick results for one backend, newest first.
	History(ctx context.Context, backend string, limit int) ([]domain.TaskResult, error)
}
