package services

import (
	"sort"
	"strings"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// reservedFields are written by the orchestrator and never compared.
var reservedFields = map[string]bool{
	domain.MetaNamespace: true,
	domain.MetaTimestamp: true,
	domain.MetaMemoryID:  true,
}

// FieldPolicy flags contradictions on shared metadata fields.
// A field selector narrows which shared fields are compared.
type FieldPolicy struct {
	kind   domain.FusionKind
	accept func(a, b any) bool
	equal  func(a, b any) bool
}

var _ driven.InconsistencyPolicy = (*FieldPolicy)(nil)

// NewContradictionPolicy compares every metadata field two records share.
func NewContradictionPolicy() *FieldPolicy {
	return &FieldPolicy{
		kind:   domain.FusionContradiction,
		accept: func(_, _ any) bool { return true },
		equal:  domain.ValuesEqual,
	}
}

// NewTimelinePolicy compares only fields whose values both parse as times.
func NewTimelinePolicy() *FieldPolicy {
	return &FieldPolicy{
		kind: domain.FusionTimeline,
		accept: func(a, b any) bool {
			_, okA := domain.ParseTimeValue(a)
			_, okB := domain.ParseTimeValue(b)
			return okA && okB
		},
		equal: func(a, b any) bool {
			ta, _ := domain.ParseTimeValue(a)
			tb, _ := domain.ParseTimeValue(b)
			return ta.Equal(tb)
		},
	}
}

// Kind returns the fusion kind.
func (p *FieldPolicy) Kind() domain.FusionKind {
	return p.kind
}

// Compare returns one contradiction per disagreeing shared field, by field name.
func (p *FieldPolicy) Compare(a, b domain.Record) ([]domain.Contradiction, bool) {
	var fields []string
	for k, va := range a.Metadata {
		if reservedFields[k] {
			continue
		}
		vb, ok := b.Metadata[k]
		if !ok || !p.accept(va, vb) {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var out []domain.Contradiction
	for _, k := range fields {
		va, vb := a.Metadata[k], b.Metadata[k]
		if p.equal(va, vb) {
			continue
		}
		out = append(out, domain.Contradiction{
			RecordA: a.ID,
			RecordB: b.ID,
			Field:   k,
			ValueA:  domain.FormatValue(va),
			ValueB:  domain.FormatValue(vb),
		})
	}
	return out, len(fields) > 0
}

// Critical flags records whose significance is "critical".
func (p *FieldPolicy) Critical(record domain.Record) (string, bool) {
	if strings.EqualFold(record.Metadata.String(domain.MetaSignificance), "critical") {
		return "marked critical", true
	}
	return "", false
}
