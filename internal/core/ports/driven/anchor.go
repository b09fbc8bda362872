package driven

import (
	"context"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// AnchorReceipt is returned by an anchor for a published hash.
type AnchorReceipt struct {
	// Ref identifies the anchored entry (transaction, ledger sequence).
	Ref string
}

// Anchorer publishes a record's integrity hash to an external
// tamper-evident log. Failures are non-fatal to the orchestrator.
type Anchorer interface {
	// Anchor publishes the record's integrity hash.
	Anchor(ctx context.Context, record domain.Record) (AnchorReceipt, error)
}
