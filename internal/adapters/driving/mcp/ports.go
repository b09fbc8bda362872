package mcp

import (
	"github.com/custodia-labs/memweave/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server uses.
type Ports struct {
	// Memory stores, searches and fuses records.
	Memory driving.MemoryService

	// Reconciler reports reconciliation task state. Optional.
	Reconciler driving.Reconciler
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Memory == nil {
		return ErrMissingMemoryService
	}
	return nil
}
