// Package memory provides an in-process backend.
//
// Records live in a map guarded by a mutex. Search uses term-overlap
// scoring and PullDelta filters on the record timestamp. It is the
// default cognitive-tier backend and the reference adapter in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/lexical"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "memory"

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

// Backend is an in-memory driven.Backend.
type Backend struct {
	name string

	mu      sync.RWMutex
	records map[string]domain.Record
	closed  bool
}

// New creates an empty in-memory backend.
func New(name string) *Backend {
	return &Backend{
		name:    name,
		records: make(map[string]domain.Record),
	}
}

// Write persists a single record.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if err := ctx.Err(); err != nil {
		return driven.WriteAck{}, domain.Unavailable("write", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return driven.WriteAck{}, domain.ErrBackendUnavailable
	}
	b.apply(record)
	return driven.WriteAck{NativeID: record.ID}, nil
}

// Search ranks stored records by term overlap.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("search", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, domain.ErrBackendUnavailable
	}
	records := make([]domain.Record, 0, len(b.records))
	for _, r := range b.records {
		records = append(records, r)
	}
	return lexical.Rank(b.name, records, query), nil
}

// PullDelta returns records with a timestamp strictly after since, oldest first.
func (b *Backend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("pull_delta", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, domain.ErrBackendUnavailable
	}
	var out []domain.Record
	for _, r := range b.records {
		if r.Timestamp.After(since) {
			out = append(out, r.Clone())
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
	if err := ctx.Err(); err != nil {
		return 0, domain.Unavailable("bulk_apply", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, domain.ErrBackendUnavailable
	}
	applied := 0
	for _, r := range records {
		if b.apply(r) {
			applied++
		}
	}
	return applied, nil
}

// Disconnect marks the backend closed. Safe to call more than once.
func (b *Backend) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len returns the number of stored records.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Get returns a stored record.
func (b *Backend) Get(id string) (domain.Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return r.Clone(), true
}

// apply must be called with mu held.
func (b *Backend) apply(record domain.Record) bool {
	if cur, ok := b.records[record.ID]; ok && !record.Supersedes(cur) {
		return false
	}
	b.records[record.ID] = record.WithoutOutcomes()
	return true
}
