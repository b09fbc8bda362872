package domain

import "time"

// FusionKind selects the inconsistency policy used by fuse.
type FusionKind string

// Built-in fusion kinds.
const (
	// FusionContradiction compares every metadata field two records share.
	FusionContradiction FusionKind = "contradiction"

	// FusionTimeline compares only time-valued metadata fields.
	FusionTimeline FusionKind = "timeline"
)

// Finding flags one record as significant.
type Finding struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// Contradiction is a disagreement between two records on one field.
type Contradiction struct {
	RecordA string `json:"record_a"`
	RecordB string `json:"record_b"`
	Field   string `json:"field"`
	ValueA  string `json:"value_a"`
	ValueB  string `json:"value_b"`
}

// FusionReport is the output of fuse.
type FusionReport struct {
	// FusionID uniquely identifies this report.
	FusionID string `json:"fusion_id"`

	// Kind is the policy that produced it.
	Kind FusionKind `json:"kind"`

	// CreatedAt is when the report was produced.
	CreatedAt time.Time `json:"created_at"`

	// RecordsAnalyzed lists the IDs found in the index, in request order.
	RecordsAnalyzed []string `json:"records_analyzed"`

	// Missing lists requested IDs unknown to the index.
	Missing []string `json:"missing,omitempty"`

	// CriticalFindings lists records the policy flagged.
	CriticalFindings []Finding `json:"critical_findings"`

	// Contradictions lists pairwise disagreements.
	Contradictions []Contradiction `json:"contradictions"`

	// AdmissibilityScore is in [0,1]; higher means more consistent and verified.
	AdmissibilityScore float64 `json:"admissibility_score"`

	// ForensicHash is the integrity hash of the canonical report body.
	ForensicHash string `json:"forensic_hash"`
}
