// Package sqlite provides a unified SQLite-based implementation of the
// orchestrator's state stores.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. It implements several driven ports through a single
// database connection:
//
//   - SyncStateStore: per-backend reconciliation checkpoints
//   - SchedulerStore: reconciliation task state and run history
//   - SnapshotStore: compressed snapshots of the unified index
//
// # Schema
//
// The schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.memweave/data/state.db
//
// # Thread Safety
//
// All operations are thread-safe. The store relies on SQLite's WAL mode.
package sqlite
