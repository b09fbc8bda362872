package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/logger"
)

// Snapshotter periodically persists the unified index so it can be
// restored at startup without waiting for reconciliation.
type Snapshotter struct {
	index    *UnifiedIndex
	store    driven.SnapshotStore
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSnapshotter creates a snapshotter.
func NewSnapshotter(index *UnifiedIndex, store driven.SnapshotStore, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{index: index, store: store, interval: interval}
}

// Restore loads the stored snapshot into the index.
// A missing snapshot is not an error.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	records, err := s.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	n := s.index.Restore(records)
	logger.Info("snapshot: restored %d of %d records", n, len(records))
	return n, nil
}

// SaveNow writes the current index to the store.
func (s *Snapshotter) SaveNow(ctx context.Context) error {
	records := s.index.Snapshot()
	if err := s.store.Save(ctx, records); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	logger.Debug("snapshot: saved %d records", len(records))
	return nil
}

// Start begins periodic snapshots and returns.
func (s *Snapshotter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := s.SaveNow(ctx); err != nil {
					logger.Warn("snapshot: %v", err)
				}
			}
		}
	}(s.stopCh)
}

// Stop ends periodic snapshots, writes a final snapshot and closes the store.
func (s *Snapshotter) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()

	saveErr := s.SaveNow(ctx)
	return errors.Join(saveErr, s.store.Close())
}
