package driven

import "github.com/custodia-labs/memweave/internal/core/domain"

// InconsistencyPolicy decides what counts as a contradiction or a critical
// finding when records are fused. Policies must be deterministic.
type InconsistencyPolicy interface {
	// Kind is the fusion kind this policy serves.
	Kind() domain.FusionKind

	// Compare returns the contradictions between two records.
	// Compared reports whether the pair had anything comparable at all.
	Compare(a, b domain.Record) (contradictions []domain.Contradiction, compared bool)

	// Critical returns a reason if the record is a critical finding.
	Critical(record domain.Record) (reason string, ok bool)
}
