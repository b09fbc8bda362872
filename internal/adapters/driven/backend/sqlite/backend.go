// Package sqlite provides a durable local backend on SQLite.
//
// Content is indexed with FTS5 and ranked by bm25. Each record gets a
// ULID native identifier on first insert. PullDelta is served by an index
// on the record timestamp, stored in a fixed-width text layout so that
// lexical order matches time order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/lexical"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "sqlite"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	native_id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL,
	integrity_hash TEXT NOT NULL,
	ts TEXT NOT NULL,
	anchored INTEGER NOT NULL DEFAULT 0,
	anchor_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_ts ON records(ts);
CREATE INDEX IF NOT EXISTS idx_records_namespace ON records(namespace);
CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(id UNINDEXED, content);
`

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

// Backend is a SQLite-backed driven.Backend.
type Backend struct {
	name string
	db   *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// An empty path or ":memory:" opens a private in-memory database.
func Open(name, path string) (*Backend, error) {
	dsn := path
	if dsn == "" || dsn == ":memory:" {
		dsn = ":memory:"
	} else {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Backend{name: name, db: db}, nil
}

// Write persists a single record.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	nativeID, _, err := b.upsert(ctx, record)
	if err != nil {
		return driven.WriteAck{}, err
	}
	return driven.WriteAck{NativeID: nativeID}, nil
}

// Search ranks records with FTS5 bm25. Scores are negated bm25 values so
// higher is better.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	hits := make([]domain.SearchHit, 0)
	match := matchExpression(query.Text)
	if match == "" {
		return hits, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT r.id, bm25(records_fts) AS rank
		FROM records_fts
		JOIN records r ON r.id = records_fts.id
		WHERE records_fts MATCH ? AND (? = '' OR r.namespace = ?)
		ORDER BY rank, r.id
		LIMIT ?
	`, match, query.Namespace, query.Namespace, limit)
	if err != nil {
		return nil, b.unavailable("search", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hit domain.SearchHit
		var rank float64
		if err := rows.Scan(&hit.RecordID, &rank); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hit.Score = -rank
		hit.Backend = b.name
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, b.unavailable("search", err)
	}
	return hits, nil
}

// PullDelta returns records with a timestamp strictly after since, oldest first.
func (b *Backend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, namespace, content, metadata, integrity_hash, ts, anchored, anchor_ref
		FROM records WHERE ts > ? ORDER BY ts, id
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, b.unavailable("pullDelta", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, b.unavailable("pullDelta", err)
	}
	return out, nil
}

// BulkApply upserts records with last-writer-wins and returns how many changed.
func (b *Backend) BulkApply(ctx context.Context, records []domain.Record) (int, error) {
	applied := 0
	for _, r := range records {
		_, changed, err := b.upsert(ctx, r)
		if err != nil {
			return applied, err
		}
		if changed {
			applied++
		}
	}
	return applied, nil
}

// Disconnect closes the database. Safe to call more than once.
func (b *Backend) Disconnect(_ context.Context) error {
	return b.db.Close()
}

func (b *Backend) upsert(ctx context.Context, record domain.Record) (string, bool, error) {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("%w: metadata: %v", domain.ErrBackendRejected, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, b.unavailable("write", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nativeID, curHash, curTS string
	err = tx.QueryRowContext(ctx,
		"SELECT native_id, integrity_hash, ts FROM records WHERE id = ?", record.ID).
		Scan(&nativeID, &curHash, &curTS)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		nativeID = ulid.Make().String()
	case err != nil:
		return "", false, b.unavailable("write", err)
	default:
		cur := domain.Record{IntegrityHash: curHash, Timestamp: parseTime(curTS)}
		if !record.Supersedes(cur) {
			return nativeID, false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, native_id, namespace, content, metadata, integrity_hash, ts, anchored, anchor_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace = excluded.namespace,
			content = excluded.content,
			metadata = excluded.metadata,
			integrity_hash = excluded.integrity_hash,
			ts = excluded.ts,
			anchored = excluded.anchored,
			anchor_ref = excluded.anchor_ref
	`, record.ID, nativeID, record.Namespace, record.Content, string(meta), record.IntegrityHash,
		record.Timestamp.UTC().Format(timeLayout), boolToInt(record.Anchored), record.AnchorRef)
	if err != nil {
		return "", false, b.unavailable("write", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM records_fts WHERE id = ?", record.ID); err != nil {
		return "", false, b.unavailable("write", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO records_fts (id, content) VALUES (?, ?)", record.ID, record.Content); err != nil {
		return "", false, b.unavailable("write", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, b.unavailable("write", err)
	}
	return nativeID, true, nil
}

func (b *Backend) unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, op, err)
}

// matchExpression quotes each query term so FTS5 syntax characters in
// user input are treated literally.
func matchExpression(text string) string {
	terms := lexical.Terms(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func scanRecord(rows *sql.Rows) (domain.Record, error) {
	var r domain.Record
	var meta, ts string
	var anchored int
	if err := rows.Scan(&r.ID, &r.Namespace, &r.Content, &meta, &r.IntegrityHash, &ts, &anchored, &r.AnchorRef); err != nil {
		return domain.Record{}, fmt.Errorf("scanning record: %w", err)
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return domain.Record{}, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
	}
	r.Timestamp = parseTime(ts)
	r.Anchored = anchored == 1
	return r, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
