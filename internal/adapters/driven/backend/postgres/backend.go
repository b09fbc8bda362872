// Package postgres provides a backend on PostgreSQL.
//
// Records live in a single table with a generated tsvector column ranked
// by ts_rank. Versions are stored as Unix nanoseconds because timestamptz
// only keeps microseconds, and delta pulls compare versions exactly.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/lexical"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "postgres"

// DefaultTable is used when the descriptor sets no table option.
const DefaultTable = "memweave_records"

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

// Backend is a PostgreSQL-backed driven.Backend.
type Backend struct {
	name  string
	db    *sql.DB
	table string
}

// New wraps an open database handle. The table name is quoted.
func New(name string, db *sql.DB, table string) *Backend {
	if table == "" {
		table = DefaultTable
	}
	return &Backend{name: name, db: db, table: pq.QuoteIdentifier(table)}
}

// Open connects with dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, name, dsn, table string) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrBackendUnavailable, err)
	}
	b := New(name, db, table)
	if err := b.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// EnsureSchema creates the records table and indexes if missing.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	indexPrefix := strings.Trim(b.table, `"`)
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			integrity_hash TEXT NOT NULL,
			ts_nanos BIGINT NOT NULL,
			anchored BOOLEAN NOT NULL DEFAULT FALSE,
			anchor_ref TEXT NOT NULL DEFAULT '',
			search TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
		);
		CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (ts_nanos);
		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING GIN (search);
	`, b.table,
		pq.QuoteIdentifier(indexPrefix+"_ts_idx"),
		pq.QuoteIdentifier(indexPrefix+"_search_idx"))
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return classify("schema", err)
	}
	return nil
}

// Write persists a single record. Postgres has no separate native ID.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if _, err := b.upsert(ctx, b.db, record); err != nil {
		return driven.WriteAck{}, err
	}
	return driven.WriteAck{NativeID: record.ID}, nil
}

// Search ranks records with ts_rank over an OR of the query terms.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	hits := make([]domain.SearchHit, 0)
	tsquery := tsQuery(query.Text)
	if tsquery == "" {
		return hits, nil
	}
	var limit interface{}
	if query.Limit > 0 {
		limit = query.Limit
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, ts_rank(search, to_tsquery('simple', $1)) AS score
		FROM %s
		WHERE search @@ to_tsquery('simple', $1) AND ($2 = '' OR namespace = $2)
		ORDER BY score DESC, id
		LIMIT $3`, b.table), tsquery, query.Namespace, limit)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	for rows.Next() {
		hit := domain.SearchHit{Backend: b.name}
		if err := rows.Scan(&hit.RecordID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search", err)
	}
	return hits, nil
}

// PullDelta returns records with a version strictly after since, oldest first.
func (b *Backend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, namespace, content, metadata, integrity_hash, ts_nanos, anchored, anchor_ref
		FROM %s WHERE ts_nanos > $1 ORDER BY ts_nanos, id`, b.table), sinceNanos)
	if err != nil {
		return nil, classify("pullDelta", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var r domain.Record
		var meta []byte
		var nanos int64
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Content, &meta, &r.IntegrityHash,
			&nanos, &r.Anchored, &r.AnchorRef); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
			}
		}
		r.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pullDelta", err)
	}
	return out, nil
}

// BulkApply upserts records in one transaction and returns how many changed.
func (b *Backend) BulkApply(ctx context.Context, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("bulkApply", err)
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, r := range records {
		changed, err := b.upsert(ctx, tx, r)
		if err != nil {
			return 0, err
		}
		if changed {
			applied++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("bulkApply", err)
	}
	return applied, nil
}

// Disconnect closes the connection pool. Safe to call more than once.
func (b *Backend) Disconnect(_ context.Context) error {
	return b.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsert applies last-writer-wins in the conflict clause so concurrent
// writers cannot regress a row.
func (b *Backend) upsert(ctx context.Context, ex execer, record domain.Record) (bool, error) {
	meta := []byte("{}")
	if len(record.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(record.Metadata)
		if err != nil {
			return false, fmt.Errorf("%w: metadata: %v", domain.ErrBackendRejected, err)
		}
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (id, namespace, content, metadata, integrity_hash, ts_nanos, anchored, anchor_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			integrity_hash = EXCLUDED.integrity_hash,
			ts_nanos = EXCLUDED.ts_nanos,
			anchored = EXCLUDED.anchored,
			anchor_ref = EXCLUDED.anchor_ref
		WHERE %[1]s.ts_nanos < EXCLUDED.ts_nanos
			OR (%[1]s.ts_nanos = EXCLUDED.ts_nanos AND %[1]s.integrity_hash < EXCLUDED.integrity_hash)`, b.table),
		record.ID, record.Namespace, record.Content, string(meta), record.IntegrityHash,
		record.Timestamp.UnixNano(), record.Anchored, record.AnchorRef)
	if err != nil {
		return false, classify("write", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("write", err)
	}
	return n > 0, nil
}

// tsQuery ORs the query terms. Terms are letters and digits only.
func tsQuery(text string) string {
	return strings.Join(lexical.Terms(text), " | ")
}

// classify maps driver errors onto the backend error kinds.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%w: %s: %v", domain.ErrBackendRejected, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, op, err)
}
