package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/codec"
	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all orchestrator state stores through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.memweave/data/state.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".memweave", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "state.db")

	// WAL lets the snapshotter and reconciler write while the CLI reads.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SyncStateStore returns a driven.SyncStateStore backed by this store.
func (s *Store) SyncStateStore() driven.SyncStateStore {
	return &syncStateStore{store: s}
}

// SchedulerStore returns a driven.SchedulerStore backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// SnapshotStore returns a driven.SnapshotStore backed by this store.
// Closing the snapshot store does not close the underlying database.
func (s *Store) SnapshotStore() driven.SnapshotStore {
	return &snapshotStore{store: s}
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== SyncStateStore ====================

// syncStateStore implements driven.SyncStateStore.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Save stores or updates the checkpoint for a backend.
func (s *syncStateStore) Save(ctx context.Context, state domain.SyncState) error {
	if state.Backend == "" {
		return domain.ErrInvalidInput
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_states (backend, last_sync, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(backend) DO UPDATE SET
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at
	`, state.Backend, formatPreciseTime(state.LastSync), formatPreciseTime(updated))
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// Get retrieves the checkpoint for a backend.
func (s *syncStateStore) Get(ctx context.Context, backend string) (*domain.SyncState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT backend, last_sync, updated_at
		FROM sync_states WHERE backend = ?
	`, backend)

	var state domain.SyncState
	var lastSync, updatedAt sql.NullString
	if err := row.Scan(&state.Backend, &lastSync, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning sync state: %w", err)
	}

	state.LastSync = parsePreciseTime(lastSync)
	state.UpdatedAt = parsePreciseTime(updatedAt)
	return &state, nil
}

// Delete removes the checkpoint for a backend.
func (s *syncStateStore) Delete(ctx context.Context, backend string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_states WHERE backend = ?", backend)
	if err != nil {
		return fmt.Errorf("deleting sync state: %w", err)
	}
	return nil
}

// ==================== SnapshotStore ====================

// snapshotID is the single row key used for the index snapshot.
const snapshotID = 1

// snapshotStore implements driven.SnapshotStore.
type snapshotStore struct {
	store *Store
}

var _ driven.SnapshotStore = (*snapshotStore)(nil)

// Save replaces the stored snapshot.
func (s *snapshotStore) Save(ctx context.Context, records []domain.Record) error {
	data, err := codec.Encode(records)
	if err != nil {
		return err
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO index_snapshots (id, record_count, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record_count = excluded.record_count,
			data = excluded.data,
			saved_at = excluded.saved_at
	`, snapshotID, len(records), data, formatPreciseTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (s *snapshotStore) Load(ctx context.Context) ([]domain.Record, error) {
	var data []byte
	err := s.store.db.QueryRowContext(ctx,
		"SELECT data FROM index_snapshots WHERE id = ?", snapshotID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return codec.DecodeBytes(data)
}

// Close is a no-op; the owning Store closes the database.
func (s *snapshotStore) Close() error {
	return nil
}

// ==================== Helper Functions ====================

// preciseLayout is fixed-width so stored timestamps sort lexically.
const preciseLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatPreciseTime keeps nanoseconds so delta high-water marks survive a round trip.
func formatPreciseTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(preciseLayout)
}

// parsePreciseTime parses a nullable RFC3339Nano string.
func parsePreciseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
