package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/logger"
)

// FusionService correlates indexed records and reports inconsistencies.
type FusionService struct {
	index *UnifiedIndex
	tel   *telemetry
	now   func() time.Time

	mu       sync.RWMutex
	policies map[domain.FusionKind]driven.InconsistencyPolicy
}

// NewFusionService creates a fusion service with the built-in policies.
// Extra policies replace built-ins of the same kind.
func NewFusionService(index *UnifiedIndex, extra ...driven.InconsistencyPolicy) *FusionService {
	s := &FusionService{
		index:    index,
		tel:      newTelemetry(nil, nil),
		now:      time.Now,
		policies: make(map[domain.FusionKind]driven.InconsistencyPolicy),
	}
	s.RegisterPolicy(NewContradictionPolicy())
	s.RegisterPolicy(NewTimelinePolicy())
	for _, p := range extra {
		s.RegisterPolicy(p)
	}
	return s
}

// RegisterPolicy adds or replaces the policy for its kind.
func (s *FusionService) RegisterPolicy(p driven.InconsistencyPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.Kind()] = p
}

// Kinds returns the registered fusion kinds.
func (s *FusionService) Kinds() []domain.FusionKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FusionKind, 0, len(s.policies))
	for k := range s.policies {
		out = append(out, k)
	}
	return out
}

// Fuse correlates the named records pairwise under the policy for kind.
// Unknown IDs are listed in Missing. An empty kind selects contradiction.
// The same set of IDs yields the same report in any order.
func (s *FusionService) Fuse(ctx context.Context, ids []string, kind domain.FusionKind) (report domain.FusionReport, err error) {
	if kind == "" {
		kind = domain.FusionContradiction
	}
	s.mu.RLock()
	policy, ok := s.policies[kind]
	s.mu.RUnlock()
	if !ok {
		return report, fmt.Errorf("fusion kind %q: %w", kind, domain.ErrUnsupportedType)
	}
	if len(ids) == 0 {
		return report, fmt.Errorf("%w: at least one record ID is required", domain.ErrInvalidInput)
	}

	_, span := s.tel.start(ctx, "memweave.fuse", attrKind.String(string(kind)))
	defer func() { endSpan(span, err) }()

	report = domain.FusionReport{
		FusionID:  uuid.NewString(),
		Kind:      kind,
		CreatedAt: s.now().UTC(),
	}

	var records []domain.Record
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := s.index.Get(id)
		if !ok {
			report.Missing = append(report.Missing, id)
			continue
		}
		records = append(records, rec)
		report.RecordsAnalyzed = append(report.RecordsAnalyzed, id)
	}
	if len(records) == 0 {
		return report, fmt.Errorf("fuse: none of %d records indexed: %w", len(seen), domain.ErrNotFound)
	}

	// The IDs are a set: analyse in ID order so pairs and the forensic
	// hash do not depend on the order the caller listed them.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	sort.Strings(report.RecordsAnalyzed)
	sort.Strings(report.Missing)

	verified := 0
	for _, rec := range records {
		if !VerifyRecord(rec) {
			report.CriticalFindings = append(report.CriticalFindings,
				domain.Finding{RecordID: rec.ID, Reason: "integrity hash mismatch"})
			continue
		}
		verified++
		if reason, ok := policy.Critical(rec); ok {
			report.CriticalFindings = append(report.CriticalFindings,
				domain.Finding{RecordID: rec.ID, Reason: reason})
		}
	}

	compared, inconsistent := 0, 0
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			cs, ok := policy.Compare(records[i], records[j])
			if !ok {
				continue
			}
			compared++
			if len(cs) > 0 {
				inconsistent++
				report.Contradictions = append(report.Contradictions, cs...)
			}
		}
	}

	report.AdmissibilityScore = admissibility(verified, len(records), inconsistent, compared)
	report.ForensicHash, err = forensicHash(report, records)
	if err != nil {
		return report, fmt.Errorf("fuse: %w", err)
	}

	logger.Debug("fuse: %s analysed %d records, %d contradictions, score %.4f",
		kind, len(records), len(report.Contradictions), report.AdmissibilityScore)
	return report, nil
}

// admissibility is the verified ratio scaled by the consistent-pair ratio,
// rounded to four decimals.
func admissibility(verified, total, inconsistent, compared int) float64 {
	if total == 0 {
		return 0
	}
	score := float64(verified) / float64(total)
	if compared > 0 {
		score *= 1 - float64(inconsistent)/float64(compared)
	}
	return math.Round(score*1e4) / 1e4
}

// forensicBody is the hashed part of a report. Report ID and creation time
// are excluded so identical inputs always hash identically.
type forensicBody struct {
	Kind           string                 `json:"kind"`
	Records        []forensicRecord       `json:"records"`
	Missing        []string               `json:"missing"`
	Findings       []domain.Finding       `json:"findings"`
	Contradictions []domain.Contradiction `json:"contradictions"`
	Admissibility  float64                `json:"admissibility"`
}

type forensicRecord struct {
	ID            string `json:"id"`
	IntegrityHash string `json:"integrity_hash"`
}

// forensicHash hashes the RFC 8785 canonical JSON of the report body.
func forensicHash(report domain.FusionReport, records []domain.Record) (string, error) {
	body := forensicBody{
		Kind:           string(report.Kind),
		Missing:        report.Missing,
		Findings:       report.CriticalFindings,
		Contradictions: report.Contradictions,
		Admissibility:  report.AdmissibilityScore,
	}
	for _, r := range records {
		body.Records = append(body.Records, forensicRecord{ID: r.ID, IntegrityHash: r.IntegrityHash})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalise report: %w", err)
	}
	return ComputeHash(string(canonical), string(report.Kind)), nil
}
