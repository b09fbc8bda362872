package file

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/logger"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// BackendDiff describes how the backend set changed between two configs.
// A changed descriptor appears in both Removed and Added.
type BackendDiff struct {
	Added   []domain.BackendDescriptor
	Removed []string
}

// Empty reports whether the diff has no changes.
func (d BackendDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffBackends compares two backend sets by name. Descriptors whose
// settings changed are reported as removed and re-added.
func DiffBackends(prev, next []domain.BackendDescriptor) BackendDiff {
	old := make(map[string]domain.BackendDescriptor, len(prev))
	for _, b := range prev {
		old[b.Name] = b
	}
	seen := make(map[string]bool, len(next))

	var diff BackendDiff
	for _, b := range next {
		seen[b.Name] = true
		was, ok := old[b.Name]
		if !ok {
			diff.Added = append(diff.Added, b)
			continue
		}
		if !sameDescriptor(was, b) {
			diff.Removed = append(diff.Removed, b.Name)
			diff.Added = append(diff.Added, b)
		}
	}
	for name := range old {
		if !seen[name] {
			diff.Removed = append(diff.Removed, name)
		}
	}
	sort.Strings(diff.Removed)
	sort.Slice(diff.Added, func(i, j int) bool {
		return diff.Added[i].Name < diff.Added[j].Name
	})
	return diff
}

// sameDescriptor ignores LastSync, which the reconciler owns.
func sameDescriptor(a, b domain.BackendDescriptor) bool {
	a.LastSync, b.LastSync = time.Time{}, time.Time{}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		a.Options, b.Options = nil, nil
	}
	return reflect.DeepEqual(a, b)
}

// ChangeFunc receives the reloaded configuration and the backend diff
// against the previous one.
type ChangeFunc func(cfg domain.Config, diff BackendDiff)

// Watcher reloads a ConfigSource when its file changes.
type Watcher struct {
	source   *ConfigSource
	debounce time.Duration
	current  domain.Config
}

// NewWatcher creates a watcher starting from the source's current content.
func NewWatcher(source *ConfigSource) (*Watcher, error) {
	cfg, err := source.Load()
	if err != nil {
		return nil, err
	}
	return &Watcher{source: source, debounce: DefaultDebounce, current: cfg}, nil
}

// SetDebounce overrides the event coalescing window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() domain.Config {
	return w.current
}

// Run watches until ctx is cancelled. The parent directory is watched so
// atomic replace-by-rename saves are seen. Invalid files are logged and
// skipped; the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(w.source.Path())

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher: %v", err)

		case <-timer.C:
			w.reload(onChange)
		}
	}
}

func (w *Watcher) reload(onChange ChangeFunc) {
	cfg, err := w.source.Load()
	if err != nil {
		logger.Warn("config reload from %s failed, keeping previous: %v", w.source.Path(), err)
		return
	}
	diff := DiffBackends(w.current.Backends, cfg.Backends)
	w.current = cfg
	logger.Info("config reloaded: %d backend(s) added, %d removed", len(diff.Added), len(diff.Removed))
	if onChange != nil {
		onChange(cfg, diff)
	}
}
