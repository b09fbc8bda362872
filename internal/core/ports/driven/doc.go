// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Backend: One storage/search system behind the orchestrator
//   - BackendFactory: Creates backends from descriptors
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - Anchorer: Publishes integrity hashes. Without it, records stay unanchored.
//   - SyncStateStore: Persists reconciliation checkpoints. Without it, LastSync
//     starts from the descriptor value on every run.
//   - SchedulerStore: Persists reconciliation task state and history.
//   - SnapshotStore: Persists unified index snapshots.
//   - EmbeddingService: Generates vector embeddings for vector backends.
//   - InconsistencyPolicy: Additional fusion policies beyond the built-ins.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
