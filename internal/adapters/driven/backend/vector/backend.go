// Package vector provides a vector-search backend.
//
// Record content is embedded through an EmbeddingService and searched by
// cosine similarity. A caller-supplied query vector is used as-is; otherwise
// the query text is embedded. Vectors are held in memory and rebuilt by
// reconciliation after a restart.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "vector"

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

type entry struct {
	record domain.Record
	vector []float32
}

// Backend is an embedding-backed driven.Backend.
type Backend struct {
	name     string
	embedder driven.EmbeddingService

	mu      sync.RWMutex
	entries map[string]entry
	closed  bool
}

// New creates a vector backend over embedder.
func New(name string, embedder driven.EmbeddingService) (*Backend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: vector backend %s", domain.ErrEmbeddingUnavailable, name)
	}
	return &Backend{
		name:     name,
		embedder: embedder,
		entries:  make(map[string]entry),
	}, nil
}

// Write embeds and stores a single record.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if _, err := b.BulkApply(ctx, []domain.Record{record}); err != nil {
		return driven.WriteAck{}, err
	}
	return driven.WriteAck{NativeID: record.ID}, nil
}

// Search ranks records by cosine similarity to the query vector.
// Only positive similarities are returned.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	vec := query.Vector
	if len(vec) == 0 {
		if query.Text == "" {
			return []domain.SearchHit{}, nil
		}
		var err error
		vec, err = b.embedder.Embed(ctx, query.Text)
		if err != nil {
			return nil, embeddingError(err)
		}
	}
	if dims := b.embedder.Dimensions(); dims > 0 && len(vec) != dims {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			domain.ErrBackendRejected, len(vec), dims)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, domain.ErrBackendUnavailable
	}
	hits := make([]domain.SearchHit, 0)
	for id, e := range b.entries {
		if query.Namespace != "" && e.record.Namespace != query.Namespace {
			continue
		}
		score := Cosine(vec, e.vector)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.SearchHit{RecordID: id, Score: score, Backend: b.name})
	}
	b.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordID < hits[j].RecordID
	})
	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
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
	for _, e := range b.entries {
		if e.record.Timestamp.After(since) {
			out = append(out, e.record.Clone())
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

// BulkApply embeds the records that win last-writer-wins in one batch and
// stores them. Returns how many changed.
func (b *Backend) BulkApply(ctx context.Context, records []domain.Record) (int, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, domain.ErrBackendUnavailable
	}
	var pending []domain.Record
	for _, r := range records {
		if cur, ok := b.entries[r.ID]; ok && !r.Supersedes(cur.record) {
			continue
		}
		pending = append(pending, r)
	}
	b.mu.RUnlock()
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, r := range pending {
		texts[i] = r.Content
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, embeddingError(err)
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
			domain.ErrBackendUnavailable, len(vectors), len(pending))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	applied := 0
	for i, r := range pending {
		// Re-check: another writer may have landed while embedding.
		if cur, ok := b.entries[r.ID]; ok && !r.Supersedes(cur.record) {
			continue
		}
		b.entries[r.ID] = entry{record: r.WithoutOutcomes(), vector: vectors[i]}
		applied++
	}
	return applied, nil
}

// Disconnect closes the embedder. Safe to call more than once.
func (b *Backend) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.embedder.Close()
}

// Cosine returns the cosine similarity of a and b, or 0 when lengths differ
// or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func embeddingError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable("embed", err)
	}
	return fmt.Errorf("%w: %w: %v", domain.ErrBackendUnavailable, domain.ErrEmbeddingUnavailable, err)
}
