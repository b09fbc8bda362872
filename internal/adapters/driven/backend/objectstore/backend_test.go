package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeObjects struct {
	mu      sync.Mutex
	data    map[string][]byte
	mod     map[string]time.Time
	now     time.Time
	listErr error
	closed  bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}, mod: map[string]time.Time{}, now: t0}
}

func (f *fakeObjects) put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = append([]byte(nil), data...)
	f.mod[key] = f.now
	return nil
}

func (f *fakeObjects) get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[key]
	if !ok {
		return nil, errObjectNotFound
	}
	return d, nil
}

func (f *fakeObjects) list(_ context.Context, prefix string) ([]objectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []objectInfo
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectInfo{Key: k, LastModified: f.mod[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeObjects) close() error {
	f.closed = true
	return nil
}

func rec(id, content string, ts time.Time) domain.Record {
	return domain.Record{ID: id, Content: content, Namespace: "case-7", IntegrityHash: "h-" + id, Timestamp: ts}
}

func TestBackend_WriteAndSearch(t *testing.T) {
	store := newFakeObjects()
	b := newBackend("backup", store, "records")
	ctx := context.Background()

	ack, err := b.Write(ctx, rec("MEM_A", "evidence 42 collected", t0))
	require.NoError(t, err)
	assert.Equal(t, "records/MEM_A.json", ack.NativeID)
	_, err = b.Write(ctx, rec("MEM_B", "witness statement", t0))
	require.NoError(t, err)

	hits, err := b.Search(ctx, domain.Query{Text: "evidence", Namespace: "case-7"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "MEM_A", hits[0].RecordID)
	assert.Equal(t, "backup", hits[0].Backend)
}

func TestBackend_PullDeltaUsesRecordTimestamp(t *testing.T) {
	store := newFakeObjects()
	b := newBackend("backup", store, "")
	ctx := context.Background()

	store.now = t0.Add(time.Hour)
	_, err := b.BulkApply(ctx, []domain.Record{
		rec("MEM_OLD", "old", t0),
		rec("MEM_NEW", "new", t0.Add(2*time.Second)),
	})
	require.NoError(t, err)

	delta, err := b.PullDelta(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "MEM_NEW", delta[0].ID)
}

func TestBackend_PullDeltaSkipsStaleObjects(t *testing.T) {
	store := newFakeObjects()
	b := newBackend("backup", store, "")
	ctx := context.Background()

	// Written long before the checkpoint, so the listing prefilter drops it.
	store.now = t0
	_, err := b.Write(ctx, rec("MEM_A", "a", t0.Add(time.Hour)))
	require.NoError(t, err)

	delta, err := b.PullDelta(ctx, t0.Add(ClockSkew+time.Minute))
	require.NoError(t, err)
	assert.Empty(t, delta)
}

func TestBackend_LastWriterWins(t *testing.T) {
	store := newFakeObjects()
	b := newBackend("backup", store, "")
	ctx := context.Background()

	n, err := b.BulkApply(ctx, []domain.Record{rec("MEM_A", "newer", t0.Add(time.Second))})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.BulkApply(ctx, []domain.Record{rec("MEM_A", "older", t0)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := b.PullDelta(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "newer", all[0].Content)
}

func TestBackend_ListErrorIsUnavailable(t *testing.T) {
	store := newFakeObjects()
	store.listErr = errors.New("connection refused")
	b := newBackend("backup", store, "")

	_, err := b.Search(context.Background(), domain.Query{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	_, err = b.PullDelta(context.Background(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestBackend_IgnoresForeignObjects(t *testing.T) {
	store := newFakeObjects()
	b := newBackend("backup", store, "")
	require.NoError(t, store.put(context.Background(), "README.txt", []byte("hello")))

	all, err := b.PullDelta(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, b.Disconnect(context.Background()))
	assert.True(t, store.closed)
}

// TestOpen_Integration requires a running MinIO instance.
// Skip if not available.
func TestOpen_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := Open(ctx, "backup", Options{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "memweave-test",
		Prefix:    fmt.Sprintf("run-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	_, err = b.Write(ctx, rec("MEM_A", "evidence 42", t0))
	require.NoError(t, err)
	delta, err := b.PullDelta(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "evidence 42", delta[0].Content)
}

func TestOpen_RequiresBucket(t *testing.T) {
	_, err := Open(context.Background(), "backup", Options{Endpoint: "localhost:9000"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
