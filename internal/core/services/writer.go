package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/logger"
)

// Writer fans a record out to every backend and commits it to the index.
type Writer struct {
	registry *Registry
	index    *UnifiedIndex
	anchors  *AnchorService
	tel      *telemetry
	timeout  time.Duration
	now      func() time.Time
}

// NewWriter creates a writer. timeout bounds each fan-out.
func NewWriter(registry *Registry, index *UnifiedIndex, anchors *AnchorService, timeout time.Duration) *Writer {
	return &Writer{
		registry: registry,
		index:    index,
		anchors:  anchors,
		tel:      newTelemetry(nil, nil),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Store creates a new record from content and metadata.
// The namespace is read from metadata["namespace"].
func (w *Writer) Store(ctx context.Context, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	if strings.TrimSpace(content) == "" {
		return domain.StoreResult{}, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}
	namespace := metadata.String(domain.MetaNamespace)
	created := w.now().UTC()
	id := domain.NewRecordID(content, namespace, created)

	return w.write(ctx, newRecord(id, content, namespace, metadata, created))
}

// Replace re-stores an existing record under the same ID. The new version
// gets a fresh timestamp strictly later than the current one.
func (w *Writer) Replace(ctx context.Context, id, content string, metadata domain.Metadata) (domain.StoreResult, error) {
	if strings.TrimSpace(content) == "" {
		return domain.StoreResult{}, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}
	cur, ok := w.index.Get(id)
	if !ok {
		return domain.StoreResult{}, fmt.Errorf("replace %s: %w", id, domain.ErrNotFound)
	}
	namespace := metadata.String(domain.MetaNamespace)
	if namespace == "" {
		namespace = cur.Namespace
	}
	ts := w.now().UTC()
	if !ts.After(cur.Timestamp) {
		ts = cur.Timestamp.Add(time.Nanosecond)
	}
	return w.write(ctx, newRecord(id, content, namespace, metadata, ts))
}

// newRecord builds the canonical record with reserved metadata keys set.
func newRecord(id, content, namespace string, metadata domain.Metadata, ts time.Time) domain.Record {
	meta := metadata.Clone()
	meta[domain.MetaNamespace] = namespace
	meta[domain.MetaTimestamp] = ts.Format(time.RFC3339Nano)
	meta[domain.MetaMemoryID] = id
	return domain.Record{
		ID:            id,
		Content:       content,
		Namespace:     namespace,
		Metadata:      meta,
		IntegrityHash: ComputeHash(content, namespace),
		Timestamp:     ts,
	}
}

func (w *Writer) write(ctx context.Context, record domain.Record) (result domain.StoreResult, err error) {
	ctx, span := w.tel.start(ctx, "memweave.store", attrRecordID.String(record.ID))
	defer func() { endSpan(span, err) }()

	entries := w.registry.Entries()
	if len(entries) == 0 {
		return domain.StoreResult{}, domain.ErrNoBackends
	}

	logger.Section("Store")
	logger.Debug("store: %s to %d backends", record.ID, len(entries))

	results := fanOut(ctx, w.timeout, "write", entries,
		func(ctx context.Context, e BackendEntry) (driven.WriteAck, error) {
			return e.Backend.Write(ctx, record)
		})

	outcomes := make([]domain.BackendOutcome, 0, len(results))
	var errs []error
	accepted := 0
	for _, r := range results {
		o := r.outcome()
		if r.Err == nil {
			o.NativeID = r.Value.NativeID
			accepted++
		} else {
			errs = append(errs, r.Err)
			logger.Warn("store: %s: %v", record.ID, r.Err)
		}
		outcomes = append(outcomes, o)
	}
	domain.SortOutcomes(outcomes)
	w.tel.recordOutcomes(ctx, "write", outcomes)
	span.SetAttributes(attrAccepted.Int(accepted), attrTotal.Int(len(entries)))

	result = domain.StoreResult{
		ID:               record.ID,
		IntegrityHash:    record.IntegrityHash,
		BackendsAccepted: accepted,
		BackendsTotal:    len(entries),
		Outcomes:         outcomes,
	}
	if accepted == 0 {
		return result, fmt.Errorf("store %s: %w: %w", record.ID, domain.ErrAllBackendsFailed, errors.Join(errs...))
	}

	record.Outcomes = outcomes
	w.index.Upsert(record)
	logger.Debug("store: %s committed, %d/%d backends", record.ID, accepted, len(entries))

	// Anchoring happens off the write path; the index is marked later.
	w.anchors.Enqueue(record)
	return result, nil
}
