// Package app assembles a running memweave instance from configuration:
// state stores, snapshot store, anchor, backends and the orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/custodia-labs/memweave/internal/adapters/driven/anchor"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend"
	"github.com/custodia-labs/memweave/internal/adapters/driven/config/file"
	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/s3"
	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
	"github.com/custodia-labs/memweave/internal/core/ports/driving"
	"github.com/custodia-labs/memweave/internal/core/services"
	"github.com/custodia-labs/memweave/internal/logger"
	"github.com/custodia-labs/memweave/internal/telemetry"
)

// Options configures Open.
type Options struct {
	// ConfigPath is the TOML file. Empty uses $MEMWEAVE_CONFIG or the default.
	ConfigPath string

	// DataDir holds state.db and file-backed backends. Empty uses
	// ~/.memweave/data.
	DataDir string

	// Factory overrides the backend factory.
	Factory driven.BackendFactory

	// Source overrides the config file. Hot reload is only available for
	// file sources.
	Source driven.ConfigSource

	// Ephemeral keeps scheduler state, checkpoints and snapshots in memory
	// instead of state.db.
	Ephemeral bool

	// Version is reported as service.version when telemetry is enabled.
	Version string

	// Telemetry is passed to telemetry.Setup.
	Telemetry []telemetry.Option
}

// stateStore is the set of orchestrator state stores Open needs.
// Both the SQLite and the in-memory store provide it.
type stateStore interface {
	SyncStateStore() driven.SyncStateStore
	SchedulerStore() driven.SchedulerStore
	SnapshotStore() driven.SnapshotStore
	Close() error
}

// App is an assembled orchestrator plus the resources it owns.
type App struct {
	cfg          domain.Config
	source       driven.ConfigSource
	factory      driven.BackendFactory
	state        stateStore
	telemetry    *telemetry.Providers
	orchestrator *services.Orchestrator

	closeOnce sync.Once
	closeErr  error
}

// Open loads configuration, opens state storage and registers every
// configured backend. Backends that cannot be created are logged and
// skipped so one unreachable system does not block the rest.
func Open(ctx context.Context, opts Options) (*App, error) {
	source := opts.Source
	if source == nil {
		fs, err := file.NewConfigSource(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		source = fs
	}
	cfg, err := source.Load()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", source.Path(), err)
	}
	logger.Debug("app: loaded config from %s (%d backends)", source.Path(), len(cfg.Backends))

	dataDir, err := resolveDataDir(opts.DataDir)
	if err != nil {
		return nil, err
	}
	state, err := openState(dataDir, opts.Ephemeral)
	if err != nil {
		return nil, err
	}

	snapshots, err := openSnapshots(ctx, cfg.Snapshot, state)
	if err != nil {
		_ = state.Close()
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = backend.NewFactory(
			backend.WithDataDir(filepath.Join(dataDir, "backends")),
			backend.WithEmbedding(cfg.Embedding),
		)
	}

	tel := openTelemetry(ctx, cfg.Telemetry, opts)

	deps := services.Dependencies{
		Anchorer:       anchor.FromConfig(cfg.Anchor),
		SchedulerStore: state.SchedulerStore(),
		Snapshots:      snapshots,
		TracerProvider: tel.TracerProvider(),
		MeterProvider:  tel.MeterProvider(),
	}
	// Without snapshots the index starts empty on every run, so a persisted
	// checkpoint would skip records the index never saw.
	if snapshots != nil {
		deps.SyncStates = state.SyncStateStore()
	}

	a := &App{
		cfg:          cfg,
		source:       source,
		factory:      factory,
		state:        state,
		telemetry:    tel,
		orchestrator: services.NewOrchestrator(cfg, deps),
	}

	if err := a.orchestrator.RestoreSnapshot(ctx); err != nil {
		logger.Warn("app: %v", err)
	}
	for _, desc := range cfg.Backends {
		if err := a.register(ctx, desc); err != nil {
			logger.Error("app: backend %s not registered: %v", desc.Name, err)
		}
	}
	return a, nil
}

// openTelemetry falls back to the global providers when the exporters
// cannot be built.
func openTelemetry(ctx context.Context, cfg domain.TelemetryConfig, opts Options) *telemetry.Providers {
	topts := append([]telemetry.Option{}, opts.Telemetry...)
	if opts.Version != "" {
		topts = append(topts, telemetry.WithVersion(opts.Version))
	}
	tel, err := telemetry.Setup(ctx, cfg, topts...)
	if err != nil {
		logger.Warn("app: telemetry disabled: %v", err)
		return &telemetry.Providers{}
	}
	return tel
}

func resolveDataDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".memweave", "data"), nil
}

func openState(dataDir string, ephemeral bool) (stateStore, error) {
	if ephemeral {
		return memory.NewStore(), nil
	}
	state, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return state, nil
}

func openSnapshots(ctx context.Context, cfg domain.SnapshotConfig, state stateStore) (driven.SnapshotStore, error) {
	switch cfg.Kind {
	case domain.SnapshotSQLite:
		return state.SnapshotStore(), nil
	case domain.SnapshotS3:
		store, err := s3.NewSnapshotStoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("opening s3 snapshot store: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) register(ctx context.Context, desc domain.BackendDescriptor) error {
	b, err := a.factory.Create(ctx, desc)
	if err != nil {
		return err
	}
	if err := a.orchestrator.RegisterBackend(ctx, desc, b); err != nil {
		_ = b.Disconnect(ctx)
		return err
	}
	return nil
}

// Config returns the configuration the app was opened with.
func (a *App) Config() domain.Config {
	return a.cfg
}

// ConfigPath returns the configuration file location.
func (a *App) ConfigPath() string {
	return a.source.Path()
}

// Memory returns the orchestrator.
func (a *App) Memory() driving.MemoryService {
	return a.orchestrator
}

// Reconciler returns the reconciler.
func (a *App) Reconciler() driving.Reconciler {
	return a.orchestrator.Reconciler()
}

// RetryAnchors retries pending integrity anchors.
func (a *App) RetryAnchors(ctx context.Context) (int, error) {
	return a.orchestrator.RetryAnchors(ctx)
}

func (a *App) retryAnchors(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.RetryAnchors(ctx)
			if err != nil {
				return
			}
			if n > 0 {
				logger.Info("app: anchored %d pending records", n)
			}
		}
	}
}

// Hydrate runs one reconciliation tick per backend so the index reflects
// what the backends hold. One-shot commands call it before reading.
func (a *App) Hydrate(ctx context.Context) error {
	var errs []error
	for _, d := range a.orchestrator.Backends() {
		if _, err := a.orchestrator.Reconciler().RunOnce(ctx, d.Name); err != nil {
			logger.Warn("app: hydrate %s: %v", d.Name, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == len(a.orchestrator.Backends()) {
		return fmt.Errorf("hydrate: %w", errors.Join(errs...))
	}
	return nil
}

// AnchorRetryInterval is how often Serve retries pending anchors.
const AnchorRetryInterval = time.Minute

// Serve starts reconciliation and periodic snapshots, follows the config
// file for backend changes and blocks until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}
	if a.cfg.Anchor.Enabled() {
		go a.retryAnchors(ctx, AnchorRetryInterval)
	}

	fs, ok := a.source.(*file.ConfigSource)
	if !ok {
		<-ctx.Done()
		return nil
	}
	watcher, err := file.NewWatcher(fs)
	if err == nil {
		err = watcher.Run(ctx, func(_ domain.Config, diff file.BackendDiff) {
			a.ApplyDiff(ctx, diff)
		})
	}
	if err != nil {
		logger.Warn("app: config hot reload disabled: %v", err)
		<-ctx.Done()
	}
	return nil
}

// ApplyDiff deregisters removed backends, then registers added ones.
func (a *App) ApplyDiff(ctx context.Context, diff file.BackendDiff) {
	for _, name := range diff.Removed {
		if err := a.orchestrator.DeregisterBackend(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("app: deregister %s: %v", name, err)
		}
	}
	for _, desc := range diff.Added {
		if err := a.register(ctx, desc.WithDefaults()); err != nil {
			logger.Error("app: register %s: %v", desc.Name, err)
		}
	}
}

// Close shuts the orchestrator down, which writes the final snapshot and
// closes the snapshot store, then releases state storage and flushes
// telemetry. Safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.orchestrator.Shutdown(ctx, a.cfg.Orchestrator.ShutdownGrace); err != nil {
			errs = append(errs, err)
		}
		if err := a.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state store: %w", err))
		}
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
