// Package redis provides a backend on Redis.
//
// Each record is a JSON string under <prefix>:rec:<id>. A sorted set
// <prefix>:changes scores record IDs by version (Unix microseconds) and
// serves PullDelta; a set per namespace narrows Search. Writes use
// WATCH/MULTI so last-writer-wins holds across concurrent writers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/lexical"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Kind is the descriptor kind for this backend.
const Kind = "redis"

// maxTxRetries bounds optimistic-lock retries per record.
const maxTxRetries = 5

// mgetBatch bounds keys per MGET.
const mgetBatch = 256

// Ensure Backend implements the interface.
var _ driven.Backend = (*Backend)(nil)

// Backend is a Redis-backed driven.Backend.
type Backend struct {
	name   string
	client redis.UniversalClient
	prefix string
}

// Options configures a Redis backend.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New wraps an existing client.
func New(name string, client redis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = "memweave:" + name
	}
	return &Backend{name: name, client: client, prefix: prefix}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, name string, opts Options) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrBackendUnavailable, err)
	}
	return New(name, client, opts.Prefix), nil
}

// Write persists a single record.
func (b *Backend) Write(ctx context.Context, record domain.Record) (driven.WriteAck, error) {
	if _, err := b.put(ctx, record); err != nil {
		return driven.WriteAck{}, err
	}
	return driven.WriteAck{NativeID: b.recordKey(record.ID)}, nil
}

// Search scores records in the query namespace (or all records) by term overlap.
func (b *Backend) Search(ctx context.Context, query domain.Query) ([]domain.SearchHit, error) {
	var ids []string
	var err error
	if query.Namespace != "" {
		ids, err = b.client.SMembers(ctx, b.namespaceKey(query.Namespace)).Result()
	} else {
		ids, err = b.client.ZRange(ctx, b.changesKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, classify("search", err)
	}
	records, err := b.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lexical.Rank(b.name, records, query), nil
}

// PullDelta returns records with a version strictly after since, oldest first.
func (b *Backend) PullDelta(ctx context.Context, since time.Time) ([]domain.Record, error) {
	lower := "-inf"
	if !since.IsZero() {
		// Scores are microseconds; fetch the boundary bucket and filter exactly below.
		lower = strconv.FormatInt(since.UnixMicro(), 10)
	}
	ids, err := b.client.ZRangeByScore(ctx, b.changesKey(), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, classify("pullDelta", err)
	}
	records, err := b.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := records[:0]
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

// Disconnect closes the client. Safe to call more than once.
func (b *Backend) Disconnect(_ context.Context) error {
	err := b.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (b *Backend) put(ctx context.Context, record domain.Record) (bool, error) {
	data, err := encodeRecord(record)
	if err != nil {
		return false, err
	}
	key := b.recordKey(record.ID)

	changed := false
	txf := func(tx *redis.Tx) error {
		changed = false
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			existing, err := decodeRecord(cur)
			if err == nil && !record.Supersedes(existing) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, b.changesKey(), redis.Z{
				Score:  float64(record.Timestamp.UnixMicro()),
				Member: record.ID,
			})
			pipe.SAdd(ctx, b.namespaceKey(record.Namespace), record.ID)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = b.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, classify("write", err)
	}
	return changed, nil
}

func (b *Backend) load(ctx context.Context, ids []string) ([]domain.Record, error) {
	records := make([]domain.Record, 0, len(ids))
	for start := 0; start < len(ids); start += mgetBatch {
		end := start + mgetBatch
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, b.recordKey(id))
		}
		values, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, classify("load", err)
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			r, err := decodeRecord([]byte(s))
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}
	return records, nil
}

func (b *Backend) recordKey(id string) string { return b.prefix + ":rec:" + id }
func (b *Backend) changesKey() string { return b.prefix + ":changes" }
func (b *Backend) namespaceKey(ns string) string { return b.prefix + ":ns:" + ns }

func encodeRecord(r domain.Record) ([]byte, error) {
	data, err := json.Marshal(r.WithoutOutcomes())
	if err != nil {
		return nil, fmt.Errorf("%w: encoding record %s: %v", domain.ErrBackendRejected, r.ID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (domain.Record, error) {
	var r domain.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, op, err)
}
