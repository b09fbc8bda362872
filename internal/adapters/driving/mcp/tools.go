package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// DefaultSearchLimit applies when the caller omits a limit.
const DefaultSearchLimit = 10

// StoreInput is the input schema for the memory_store tool.
type StoreInput struct {
	Content   string         `json:"content" jsonschema:"the memory content to store"`
	Namespace string         `json:"namespace,omitempty" jsonschema:"namespace grouping related memories, for example a case ID"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"additional key/value metadata"`
	ID        string         `json:"id,omitempty" jsonschema:"existing record ID to replace instead of creating a new record"`
}

// OutcomeOutput is one backend's handling of a write.
type OutcomeOutput struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// StoreOutput is the output schema for the memory_store tool.
type StoreOutput struct {
	ID               string          `json:"id"`
	IntegrityHash    string          `json:"integrity_hash"`
	BackendsAccepted int             `json:"backends_accepted"`
	BackendsTotal    int             `json:"backends_total"`
	Anchored         bool            `json:"anchored"`
	AnchorRef        string          `json:"anchor_ref,omitempty"`
	Outcomes         []OutcomeOutput `json:"outcomes"`
}

// SearchInput is the input schema for the memory_search tool.
type SearchInput struct {
	Query     string         `json:"query" jsonschema:"the search query"`
	Namespace string         `json:"namespace,omitempty" jsonschema:"restrict results to one namespace"`
	Limit     int            `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"only return records whose metadata contains these values"`
}

// SearchResultOutput represents a single fused search result.
type SearchResultOutput struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Namespace string         `json:"namespace,omitempty"`
	Score     float64        `json:"score"`
	Backends  []string       `json:"backends"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchOutput is the output schema for the memory_search tool.
type SearchOutput struct {
	Results      []SearchResultOutput `json:"results"`
	Count        int                  `json:"count"`
	Contributing []string             `json:"contributing"`
	Failed       []OutcomeOutput      `json:"failed,omitempty"`
}

// FuseInput is the input schema for the memory_fuse tool.
type FuseInput struct {
	IDs  []string `json:"ids" jsonschema:"record IDs to correlate"`
	Kind string   `json:"kind,omitempty" jsonschema:"fusion policy: contradiction (default) or timeline"`
}

// ContradictionOutput is a disagreement between two records.
type ContradictionOutput struct {
	RecordA string `json:"record_a"`
	RecordB string `json:"record_b"`
	Field   string `json:"field"`
	ValueA  string `json:"value_a"`
	ValueB  string `json:"value_b"`
}

// FindingOutput flags one record.
type FindingOutput struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// FuseOutput is the output schema for the memory_fuse tool.
type FuseOutput struct {
	FusionID           string                `json:"fusion_id"`
	Kind               string                `json:"kind"`
	CreatedAt          string                `json:"created_at"`
	RecordsAnalyzed    []string              `json:"records_analyzed"`
	Missing            []string              `json:"missing,omitempty"`
	CriticalFindings   []FindingOutput       `json:"critical_findings"`
	Contradictions     []ContradictionOutput `json:"contradictions"`
	AdmissibilityScore float64               `json:"admissibility_score"`
	ForensicHash       string                `json:"forensic_hash"`
}

// GetInput is the input schema for the memory_get tool.
type GetInput struct {
	ID     string `json:"id" jsonschema:"the record ID"`
	Verify bool   `json:"verify,omitempty" jsonschema:"recompute the integrity hash and report whether it matches"`
}

// GetOutput is the output schema for the memory_get tool.
type GetOutput struct {
	ID            string          `json:"id"`
	Content       string          `json:"content"`
	Namespace     string          `json:"namespace,omitempty"`
	IntegrityHash string          `json:"integrity_hash"`
	Timestamp     string          `json:"timestamp"`
	Anchored      bool            `json:"anchored"`
	AnchorRef     string          `json:"anchor_ref,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Outcomes      []OutcomeOutput `json:"outcomes,omitempty"`
	Verified      *bool           `json:"verified,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_store",
		Description: "Store a memory in every registered backend and return the per-backend outcome",
	}, s.handleStore)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search all backends and return fused, deduplicated results",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_fuse",
		Description: "Correlate records and report contradictions, critical findings and an admissibility score",
	}, s.handleFuse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one record by ID, optionally verifying its integrity hash",
	}, s.handleGet)
}

func (s *Server) handleStore(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StoreInput,
) (*mcp.CallToolResult, StoreOutput, error) {
	meta := domain.Metadata(input.Metadata).Clone()
	if input.Namespace != "" {
		meta[domain.MetaNamespace] = input.Namespace
	}

	var (
		result domain.StoreResult
		err    error
	)
	if input.ID != "" {
		result, err = s.ports.Memory.Replace(ctx, input.ID, input.Content, meta)
	} else {
		result, err = s.ports.Memory.Store(ctx, input.Content, meta)
	}
	if err != nil {
		return nil, StoreOutput{}, err
	}

	return nil, StoreOutput{
		ID:               result.ID,
		IntegrityHash:    result.IntegrityHash,
		BackendsAccepted: result.BackendsAccepted,
		BackendsTotal:    result.BackendsTotal,
		Anchored:         result.Anchored,
		AnchorRef:        result.AnchorRef,
		Outcomes:         toOutcomes(result.Outcomes),
	}, nil
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	resp, err := s.ports.Memory.Search(ctx, input.Query, domain.SearchOptions{
		Namespace:        input.Namespace,
		Limit:            limit,
		RequiredMetadata: domain.Metadata(input.Metadata),
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:      make([]SearchResultOutput, len(resp.Results)),
		Count:        len(resp.Results),
		Contributing: append([]string{}, resp.Contributing...),
		Failed:       toOutcomes(resp.Failed),
	}
	for i, r := range resp.Results {
		output.Results[i] = SearchResultOutput{
			ID:        r.Record.ID,
			Content:   r.Record.Content,
			Namespace: r.Record.Namespace,
			Score:     r.Score,
			Backends:  r.ContributingBackends,
			Timestamp: formatTime(r.Record.Timestamp),
			Metadata:  r.Record.Metadata,
		}
	}
	return nil, output, nil
}

func (s *Server) handleFuse(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FuseInput,
) (*mcp.CallToolResult, FuseOutput, error) {
	kind := domain.FusionKind(input.Kind)
	if kind == "" {
		kind = domain.FusionContradiction
	}

	report, err := s.ports.Memory.Fuse(ctx, input.IDs, kind)
	if err != nil {
		return nil, FuseOutput{}, err
	}

	output := FuseOutput{
		FusionID:           report.FusionID,
		Kind:               string(report.Kind),
		CreatedAt:          formatTime(report.CreatedAt),
		RecordsAnalyzed:    report.RecordsAnalyzed,
		Missing:            report.Missing,
		CriticalFindings:   make([]FindingOutput, len(report.CriticalFindings)),
		Contradictions:     make([]ContradictionOutput, len(report.Contradictions)),
		AdmissibilityScore: report.AdmissibilityScore,
		ForensicHash:       report.ForensicHash,
	}
	for i, f := range report.CriticalFindings {
		output.CriticalFindings[i] = FindingOutput(f)
	}
	for i, c := range report.Contradictions {
		output.Contradictions[i] = ContradictionOutput(c)
	}
	return nil, output, nil
}

func (s *Server) handleGet(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetInput,
) (*mcp.CallToolResult, GetOutput, error) {
	if input.ID == "" {
		return nil, GetOutput{}, fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}
	rec, err := s.ports.Memory.Get(ctx, input.ID)
	if err != nil {
		return nil, GetOutput{}, err
	}

	output := GetOutput{
		ID:            rec.ID,
		Content:       rec.Content,
		Namespace:     rec.Namespace,
		IntegrityHash: rec.IntegrityHash,
		Timestamp:     formatTime(rec.Timestamp),
		Anchored:      rec.Anchored,
		AnchorRef:     rec.AnchorRef,
		Metadata:      rec.Metadata,
		Outcomes:      toOutcomes(rec.Outcomes),
	}
	if input.Verify {
		ok, err := s.ports.Memory.Verify(ctx, input.ID)
		if err != nil {
			return nil, GetOutput{}, err
		}
		output.Verified = &ok
	}
	return nil, output, nil
}

func toOutcomes(outcomes []domain.BackendOutcome) []OutcomeOutput {
	out := make([]OutcomeOutput, len(outcomes))
	for i, o := range outcomes {
		out[i] = OutcomeOutput{Backend: o.Backend, Status: string(o.Status), Error: o.Error}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
