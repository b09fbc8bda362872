// Package objectstore provides a backup-tier backend on MinIO or any
// S3-compatible bucket.
//
// Each record is one JSON object under <prefix><id>.json. PullDelta lists
// objects modified after the checkpoint, allowing for clock skew between
// the orchestrator and the object store, then filters on the record
// timestamp. Search reads every object in scope and scores by term overlap,
// which suits the backup role rather than interactive retrieval.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/lexical"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "objectstore"

// ClockSkew widens the LastModified prefilter in PullDelta.
const ClockSkew = 5 * time.Minute

// errObjectNotFound is returned by objects.get for missing keys.
var errObjectNotFound = errors.New("object not found")

// objectInfo is the listing metadata PullDelta needs.
type objectInfo struct {
	Key          string
	LastModified time.Time
}

// objects is the bucket surface the backend uses.
type objects interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]objectInfo, error)
	close() error
}

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

// Backend stores records as objects.
type Backend struct {
	name   string
	store  objects
	prefix string
}

func newBackend(name string, store objects, prefix string) *Backend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{name: name, store: store, prefix: prefix}
}

// Write persists a single record unless a newer version is already stored.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if _, err := b.put(ctx, record); err != nil {
		return driven.WriteAck{}, err
	}
	return driven.WriteAck{NativeID: b.key(record.ID)}, nil
}

// Search scores every record in scope by term overlap.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	infos, err := b.store.list(ctx, b.prefix)
	if err != nil {
		return nil, classify("search", err)
	}
	records, err := b.fetch(ctx, infos)
	if err != nil {
		return nil, err
	}
	return lexical.Rank(b.name, records, query), nil
}

// PullDelta returns records with a timestamp strictly after since, oldest first.
func (b *Backend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	infos, err := b.store.list(ctx, b.prefix)
	if err != nil {
		return nil, classify("pullDelta", err)
	}
	if !since.IsZero() {
		cutoff := since.Add(-ClockSkew)
		kept := infos[:0]
		for _, info := range infos {
			if info.LastModified.After(cutoff) {
				kept = append(kept, info)
			}
		}
		infos = kept
	}
	records, err := b.fetch(ctx, infos)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// BulkApply upserts records with last-writer-wins and returns how many changed.
func (b *Backend) BulkApply(ctx context.Context, records []domain.Record) (int, error) {
	applied := 0
	for _, r := range records {
		changed, err := b.put(ctx, r)
		if err != nil {
			return applied, err
		}
		if changed {
			applied++
		}
	}
	return applied, nil
}

// Disconnect releases the client.
func (b *Backend) Disconnect(_ context.Context) error {
	return b.store.close()
}

// put is read-then-write; the bucket offers no compare-and-swap, so two
// concurrent writers of one ID may race. Reconciliation converges them.
func (b *Backend) put(ctx context.Context, record domain.Record) (bool, error) {
	key := b.key(record.ID)
	cur, err := b.store.get(ctx, key)
	switch {
	case errors.Is(err, errObjectNotFound):
	case err != nil:
		return false, classify("write", err)
	default:
		var existing domain.Record
		if json.Unmarshal(cur, &existing) == nil && !record.Supersedes(existing) {
			return false, nil
		}
	}

	data, err := json.Marshal(record.WithoutOutcomes())
	if err != nil {
		return false, fmt.Errorf("%w: encoding record %s: %v", domain.ErrBackendRejected, record.ID, err)
	}
	if err := b.store.put(ctx, key, data); err != nil {
		return false, classify("write", err)
	}
	return true, nil
}

func (b *Backend) fetch(ctx context.Context, infos []objectInfo) ([]domain.Record, error) {
	records := make([]domain.Record, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		data, err := b.store.get(ctx, info.Key)
		if errors.Is(err, errObjectNotFound) {
			// Deleted between list and get.
			continue
		}
		if err != nil {
			return nil, classify("read", err)
		}
		var r domain.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", info.Key, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (b *Backend) key(id string) string {
	return b.prefix + id + ".json"
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, op, err)
}
