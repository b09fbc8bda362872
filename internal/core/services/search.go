package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/logger"
)

// FusedHit is a deduplicated hit before index resolution.
type FusedHit struct {
	RecordID string
	Score    float64
	// Backends that returned the record, ordered by priority then name.
	Backends []string
	// BestPriority is the lowest priority among Backends.
	BestPriority int
}

// FuseHits groups raw hits by record ID, keeps the maximum score, and orders
// by score descending, then best contributing priority ascending, then ID.
// It is pure: the same hits and priorities always produce the same output.
// Backends missing from priorities rank after every known backend.
func FuseHits(hits []domain.SearchHit, priorities map[string]int) []FusedHit {
	prio := func(name string) int {
		if p, ok := priorities[name]; ok {
			return p
		}
		return math.MaxInt
	}

	byID := make(map[string]*FusedHit)
	seen := make(map[string]map[string]bool)
	for _, h := range hits {
		if h.RecordID == "" {
			continue
		}
		f, ok := byID[h.RecordID]
		if !ok {
			f = &FusedHit{RecordID: h.RecordID, Score: h.Score, BestPriority: math.MaxInt}
			byID[h.RecordID] = f
			seen[h.RecordID] = make(map[string]bool)
		}
		if h.Score > f.Score {
			f.Score = h.Score
		}
		if !seen[h.RecordID][h.Backend] {
			seen[h.RecordID][h.Backend] = true
			f.Backends = append(f.Backends, h.Backend)
		}
		if p := prio(h.Backend); p < f.BestPriority {
			f.BestPriority = p
		}
	}

	out := make([]FusedHit, 0, len(byID))
	for _, f := range byID {
		sort.Slice(f.Backends, func(i, j int) bool {
			pi, pj := prio(f.Backends[i]), prio(f.Backends[j])
			if pi != pj {
				return pi < pj
			}
			return f.Backends[i] < f.Backends[j]
		})
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].BestPriority != out[j].BestPriority {
			return out[i].BestPriority < out[j].BestPriority
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// SearchService fans queries out to every backend and fuses the answers.
type SearchService struct {
	registry     *Registry
	index        *UnifiedIndex
	tel          *telemetry
	timeout      time.Duration
	defaultLimit int
}

// NewSearchService creates a search service. timeout bounds each fan-out.
func NewSearchService(registry *Registry, index *UnifiedIndex, timeout time.Duration, defaultLimit int) *SearchService {
	if defaultLimit <= 0 {
		defaultLimit = domain.DefaultSearchOptions().Limit
	}
	return &SearchService{
		registry:     registry,
		index:        index,
		tel:          newTelemetry(nil, nil),
		timeout:      timeout,
		defaultLimit: defaultLimit,
	}
}

// Search queries every backend concurrently. Backends that fail or miss the
// deadline are reported in Failed and excluded from the results. Only when
// no backend answers is an error returned.
func (s *SearchService) Search(
	ctx context.Context,
	query string,
	opts domain.SearchOptions,
) (resp domain.SearchResponse, err error) {
	query = strings.TrimSpace(query)
	if query == "" && len(opts.Vector) == 0 {
		return resp, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	if opts.Limit < 0 {
		return resp, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidInput)
	}
	entries := s.registry.Entries()
	if len(entries) == 0 {
		return resp, domain.ErrNoBackends
	}

	ctx, span := s.tel.start(ctx, "memweave.search")
	defer func() { endSpan(span, err) }()

	limit := opts.Limit
	if limit == 0 {
		limit = s.defaultLimit
	}

	logger.Section("Search")
	logger.Debug("search: %q across %d backends (limit %d)", query, len(entries), limit)

	q := domain.Query{
		Text:      query,
		Namespace: opts.Namespace,
		Vector:    opts.Vector,
		Limit:     limit * 2,
	}
	results := fanOut(ctx, s.timeout, "search", entries,
		func(ctx context.Context, e BackendEntry) ([]domain.SearchHit, error) {
			return e.Backend.Search(ctx, q)
		})

	var hits []domain.SearchHit
	outcomes := make([]domain.BackendOutcome, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, r.outcome())
		if r.Err != nil {
			logger.Warn("search: %v", r.Err)
			resp.Failed = append(resp.Failed, r.outcome())
			continue
		}
		resp.Contributing = append(resp.Contributing, r.Entry.Name())
		for _, h := range r.Value {
			h.Backend = r.Entry.Name()
			hits = append(hits, h)
		}
		logger.Debug("search: %s returned %d hits", r.Entry.Name(), len(r.Value))
	}
	s.tel.recordOutcomes(ctx, "search", outcomes)

	if len(resp.Contributing) == 0 {
		return resp, fmt.Errorf("search: %w", domain.ErrAllBackendsFailed)
	}

	resp.Results = s.resolve(FuseHits(hits, s.registry.Priorities()), opts, limit)
	span.SetAttributes(attrResults.Int(len(resp.Results)))
	logger.Info("search: %d results from %d/%d backends", len(resp.Results), len(resp.Contributing), len(entries))
	return resp, nil
}

// resolve attaches canonical records from the index and applies filters.
// Hits for IDs the index does not know yet are dropped; reconciliation
// will bring them in.
func (s *SearchService) resolve(fused []FusedHit, opts domain.SearchOptions, limit int) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, min(limit, len(fused)))
	for _, f := range fused {
		rec, ok := s.index.Get(f.RecordID)
		if !ok {
			logger.Debug("search: %s not in index, skipping", f.RecordID)
			continue
		}
		if !matches(rec, opts) {
			continue
		}
		results = append(results, domain.SearchResult{
			Record:               rec,
			Score:                f.Score,
			ContributingBackends: f.Backends,
		})
		if len(results) == limit {
			break
		}
	}
	return results
}

// matches applies namespace and required metadata filters.
func matches(rec domain.Record, opts domain.SearchOptions) bool {
	if opts.Namespace != "" && rec.Namespace != opts.Namespace {
		return false
	}
	for k, want := range opts.RequiredMetadata {
		got, ok := rec.Metadata[k]
		if !ok || !domain.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}
