package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/logger"
)

// anchorQueueSize bounds records waiting for the anchor worker. Overflow
// goes straight to the pending set.
const anchorQueueSize = 1024

// AnchorService publishes integrity hashes on a best-effort basis.
// Writers hand records to Enqueue and return; a background worker publishes
// them and reports each success through the mark callback given to Start.
// A failed publish leaves the record unanchored and queues its ID for a
// later retry; it never fails the caller.
type AnchorService struct {
	anchorer driven.Anchorer
	limiter  *rate.Limiter
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	queue   chan domain.Record
	started bool
	stopped bool

	mark   func(record domain.Record, ref string)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAnchorService creates an anchor service. A nil anchorer disables anchoring.
func NewAnchorService(anchorer driven.Anchorer, cfg domain.AnchorConfig) *AnchorService {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &AnchorService{
		anchorer: anchorer,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		timeout:  cfg.Timeout,
		pending:  make(map[string]struct{}),
		queue:    make(chan domain.Record, anchorQueueSize),
	}
}

// Start launches the worker that drains Enqueue. mark is called after every
// successful publish. Starting twice, or a disabled service, is a no-op.
func (s *AnchorService) Start(mark func(record domain.Record, ref string)) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.mark = mark
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go s.run()
}

func (s *AnchorService) run() {
	defer close(s.done)
	for rec := range s.queue {
		if ref, ok := s.Anchor(s.ctx, rec); ok && s.mark != nil {
			s.mark(rec, ref)
		}
	}
}

// Enqueue hands a record to the worker without waiting for the publish.
// Without a running worker, or with a full queue, the record goes to the
// pending set instead.
func (s *AnchorService) Enqueue(record domain.Record) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		s.pending[record.ID] = struct{}{}
		return
	}
	select {
	case s.queue <- record:
	default:
		logger.Warn("anchor: queue full, deferring %s", record.ID)
		s.pending[record.ID] = struct{}{}
	}
}

// Stop closes the queue and lets the worker publish what is left until ctx
// is done. Records still queued after that are moved to the pending set.
func (s *AnchorService) Stop(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		// Remaining publishes fail fast and land in pending.
		s.cancel()
		<-s.done
	}
	s.cancel()
}

// Enabled reports whether an anchorer is configured.
func (s *AnchorService) Enabled() bool {
	return s != nil && s.anchorer != nil
}

// Anchor publishes the record's hash. It returns the anchor reference and
// true on success; on any failure it logs, queues the record and returns false.
func (s *AnchorService) Anchor(ctx context.Context, record domain.Record) (string, bool) {
	if !s.Enabled() {
		return "", false
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.fail(record.ID, fmt.Errorf("rate limit wait: %w", err))
		return "", false
	}

	receipt, err := s.anchorer.Anchor(ctx, record)
	if err != nil {
		s.fail(record.ID, err)
		return "", false
	}

	s.mu.Lock()
	delete(s.pending, record.ID)
	s.mu.Unlock()
	return receipt.Ref, true
}

func (s *AnchorService) fail(id string, err error) {
	logger.Warn("anchor: %v: %s: %v", domain.ErrAnchorFailure, id, err)
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.mu.Unlock()
}

// Pending returns the IDs awaiting a successful anchor, sorted.
func (s *AnchorService) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops an ID from the pending queue.
func (s *AnchorService) Forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
