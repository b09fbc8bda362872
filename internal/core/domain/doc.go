// Package domain defines the core entities of the memweave orchestrator.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Record: A stored memory with its integrity hash and per-backend outcomes
//   - BackendDescriptor: A registered backend with its role and priority
//   - SearchHit / SearchResult: Raw and fused search output
//   - FusionReport: The outcome of correlating a set of records
//   - ScheduledTask / TaskResult: Reconciliation task state
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
