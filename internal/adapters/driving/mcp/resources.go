package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

const (
	// URIScheme is the custom URI scheme for memweave resources.
	uriScheme = "memweave://"

	// recentTicks is how many tick results the tasks resource includes.
	recentTicks = 5
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "backends",
		Name:        "backends",
		Description: "Registered backends with role, priority and last sync time",
		MIMEType:    "application/json",
	}, s.handleBackendsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "tasks",
		Name:        "tasks",
		Description: "Reconciliation task state per backend with its most recent ticks",
		MIMEType:    "application/json",
	}, s.handleTasksResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "records/{recordId}",
		Name:        "record-content",
		Description: "Content of a specific record",
		MIMEType:    "text/plain",
	}, s.handleRecordResource)
}

func (s *Server) handleBackendsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	type backendInfo struct {
		Name              string `json:"name"`
		Kind              string `json:"kind"`
		Role              string `json:"role"`
		Priority          int    `json:"priority"`
		ReconcileInterval string `json:"reconcile_interval"`
		LastSync          string `json:"last_sync,omitempty"`
	}

	descs := s.ports.Memory.Backends()
	infos := make([]backendInfo, len(descs))
	for i, d := range descs {
		infos[i] = backendInfo{
			Name:              d.Name,
			Kind:              d.Kind,
			Role:              string(d.Role),
			Priority:          d.Priority,
			ReconcileInterval: d.ReconcileInterval.String(),
			LastSync:          formatTime(d.LastSync),
		}
	}
	return jsonResource(req.Params.URI, infos)
}

func (s *Server) handleTasksResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Reconciler == nil {
		return jsonResource(req.Params.URI, []struct{}{})
	}

	tasks, err := s.ports.Reconciler.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	type tickInfo struct {
		StartedAt           string `json:"started_at"`
		Success             bool   `json:"success"`
		Error               string `json:"error,omitempty"`
		ItemsProcessed      int    `json:"items_processed"`
		PropagationFailures int    `json:"propagation_failures"`
	}
	type taskInfo struct {
		Backend     string     `json:"backend"`
		Interval    string     `json:"interval"`
		Enabled     bool       `json:"enabled"`
		LastRun     string     `json:"last_run,omitempty"`
		LastSuccess string     `json:"last_success,omitempty"`
		LastError   string     `json:"last_error,omitempty"`
		Recent      []tickInfo `json:"recent,omitempty"`
	}
	infos := make([]taskInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = taskInfo{
			Backend:     t.Backend,
			Interval:    t.Interval.String(),
			Enabled:     t.Enabled,
			LastRun:     formatTime(t.LastRun),
			LastSuccess: formatTime(t.LastSuccess),
			LastError:   t.LastError,
		}
		history, err := s.ports.Reconciler.History(ctx, t.Backend, recentTicks)
		if err != nil {
			return nil, fmt.Errorf("task history for %s: %w", t.Backend, err)
		}
		for _, r := range history {
			infos[i].Recent = append(infos[i].Recent, tickInfo{
				StartedAt:           formatTime(r.StartedAt),
				Success:             r.Success,
				Error:               r.Error,
				ItemsProcessed:      r.ItemsProcessed,
				PropagationFailures: r.PropagationFailures,
			})
		}
	}
	return jsonResource(req.Params.URI, infos)
}

func (s *Server) handleRecordResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	// URI: memweave://records/{recordId}
	id := extractRecordID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	rec, err := s.ports.Memory.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     rec.Content,
		}},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractRecordID extracts the record ID from a URI like memweave://records/{recordId}.
func extractRecordID(uri string) string {
	const prefix = uriScheme + "records/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
