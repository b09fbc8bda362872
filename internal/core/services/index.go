package services

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/logger"
)

const indexShards = 64

// UpsertResult describes what an upsert did to the index.
type UpsertResult int

const (
	// UpsertStale means the incoming record lost last-writer-wins.
	UpsertStale UpsertResult = iota
	// UpsertInserted means the ID was new.
	UpsertInserted
	// UpsertReplaced means the incoming record superseded the current one.
	UpsertReplaced
	// UpsertMerged means the same version arrived again and outcomes were merged.
	UpsertMerged
)

// Applied reports whether the incoming record is now the current version.
func (r UpsertResult) Applied() bool {
	return r != UpsertStale
}

type indexShard struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
}

// UnifiedIndex is the canonical view of every record across backends.
// Records are stored as immutable values; every change swaps in a new
// value under the owning shard's lock, so readers never see a partial update.
type UnifiedIndex struct {
	shards [indexShards]*indexShard
}

// NewUnifiedIndex creates an empty index.
func NewUnifiedIndex() *UnifiedIndex {
	x := &UnifiedIndex{}
	for i := range x.shards {
		x.shards[i] = &indexShard{records: make(map[string]*domain.Record)}
	}
	return x
}

func (x *UnifiedIndex) shard(id string) *indexShard {
	return x.shards[xxhash.Sum64String(id)%indexShards]
}

// Upsert applies last-writer-wins on the record's own Timestamp.
// Equal timestamps with equal hashes merge outcomes; equal timestamps with
// different hashes keep the lexicographically greater hash.
// A losing record is logged as an index conflict and dropped.
func (x *UnifiedIndex) Upsert(record domain.Record) UpsertResult {
	if record.ID == "" {
		return UpsertStale
	}
	s := x.shard(record.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[record.ID]
	if !ok {
		stored := record.Clone()
		domain.SortOutcomes(stored.Outcomes)
		s.records[record.ID] = &stored
		return UpsertInserted
	}

	switch {
	case record.Timestamp.After(cur.Timestamp):
		stored := record.Clone()
		domain.SortOutcomes(stored.Outcomes)
		s.records[record.ID] = &stored
		return UpsertReplaced
	case record.Timestamp.Equal(cur.Timestamp) && record.IntegrityHash == cur.IntegrityHash:
		merged := cur.Clone()
		merged.Outcomes = domain.MergeOutcomes(cur.Outcomes, record.Outcomes)
		if record.Anchored && !merged.Anchored {
			merged.Anchored = true
			merged.AnchorRef = record.AnchorRef
		}
		s.records[record.ID] = &merged
		return UpsertMerged
	case record.Timestamp.Equal(cur.Timestamp) && record.IntegrityHash > cur.IntegrityHash:
		stored := record.Clone()
		domain.SortOutcomes(stored.Outcomes)
		s.records[record.ID] = &stored
		return UpsertReplaced
	default:
		logger.Warn("index: %v: %s at %s is older than %s",
			domain.ErrIndexConflict, record.ID,
			record.Timestamp.Format(time.RFC3339Nano), cur.Timestamp.Format(time.RFC3339Nano))
		return UpsertStale
	}
}

// MergeOutcomes adds outcomes to the record if its current version still
// has the given timestamp. Returns false if the record is missing or has
// since been replaced.
func (x *UnifiedIndex) MergeOutcomes(id string, version time.Time, outcomes []domain.BackendOutcome) bool {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok || !cur.Timestamp.Equal(version) {
		return false
	}
	merged := cur.Clone()
	merged.Outcomes = domain.MergeOutcomes(cur.Outcomes, outcomes)
	s.records[id] = &merged
	return true
}

// MarkAnchored records an anchor receipt if the current version still
// carries the anchored hash.
func (x *UnifiedIndex) MarkAnchored(id, hash, ref string) bool {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok || cur.IntegrityHash != hash {
		return false
	}
	updated := cur.Clone()
	updated.Anchored = true
	updated.AnchorRef = ref
	s.records[id] = &updated
	return true
}

// Get returns a copy of the current record.
func (x *UnifiedIndex) Get(id string) (domain.Record, bool) {
	s := x.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return cur.Clone(), true
}

// Len returns the number of records.
func (x *UnifiedIndex) Len() int {
	n := 0
	for _, s := range x.shards {
		s.mu.RLock()
		n += len(s.records)
		s.mu.RUnlock()
	}
	return n
}

// Scan calls fn for every record until fn returns false.
// fn runs outside shard locks and may call back into the index.
func (x *UnifiedIndex) Scan(fn func(domain.Record) bool) {
	for _, s := range x.shards {
		s.mu.RLock()
		batch := make([]*domain.Record, 0, len(s.records))
		for _, r := range s.records {
			batch = append(batch, r)
		}
		s.mu.RUnlock()

		for _, r := range batch {
			if !fn(r.Clone()) {
				return
			}
		}
	}
}

// Snapshot returns every record ordered by ID.
func (x *UnifiedIndex) Snapshot() []domain.Record {
	var out []domain.Record
	x.Scan(func(r domain.Record) bool {
		out = append(out, r)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore upserts records and returns how many were applied.
func (x *UnifiedIndex) Restore(records []domain.Record) int {
	n := 0
	for _, r := range records {
		if x.Upsert(r).Applied() {
			n++
		}
	}
	return n
}
