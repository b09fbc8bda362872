// Package backend builds storage backends from descriptors.
//
// Each adapter lives in its own subpackage. The Factory maps a descriptor
// Kind to the matching constructor and translates descriptor Options into
// the adapter's configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/memory"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/objectstore"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/postgres"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/redis"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/sqlite"
	"github.com/custodia-labs/memweave/internal/adapters/driven/backend/vector"
	"github.com/custodia-labs/memweave/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/memweave/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.BackendFactory = (*Factory)(nil)

// Embedding providers accepted by NewEmbedder.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Builder creates a backend from a descriptor.
type Builder func(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error)

// EmbedderFunc creates an embedding service for a vector backend.
type EmbedderFunc func(cfg domain.EmbeddingConfig) (driven.EmbeddingService, error)

// Factory implements driven.BackendFactory.
type Factory struct {
	dataDir     string
	embedding   domain.EmbeddingConfig
	newEmbedder EmbedderFunc
	builders    map[string]Builder
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDataDir sets the directory for file-backed backends without an
// explicit path.
func WithDataDir(dir string) FactoryOption {
	return func(f *Factory) { f.dataDir = dir }
}

// WithEmbedding sets the default embedding configuration for vector backends.
func WithEmbedding(cfg domain.EmbeddingConfig) FactoryOption {
	return func(f *Factory) { f.embedding = cfg }
}

// WithEmbedderFunc overrides how vector backends obtain an embedder.
func WithEmbedderFunc(fn EmbedderFunc) FactoryOption {
	return func(f *Factory) { f.newEmbedder = fn }
}

// NewFactory creates a factory with every built-in kind registered.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		newEmbedder: NewEmbedder,
		builders:    make(map[string]Builder),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.Register(memory.Kind, f.buildMemory)
	f.Register(sqlite.Kind, f.buildSQLite)
	f.Register(postgres.Kind, f.buildPostgres)
	f.Register(redis.Kind, f.buildRedis)
	f.Register(objectstore.Kind, f.buildObjectStore)
	f.Register(vector.Kind, f.buildVector)
	return f
}

// Register adds or replaces the builder for kind.
func (f *Factory) Register(kind string, builder Builder) {
	f.builders[kind] = builder
}

// Create builds the adapter selected by desc.Kind.
func (f *Factory) Create(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	builder, ok := f.builders[desc.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: backend kind %q", domain.ErrUnsupportedType, desc.Kind)
	}
	return builder(ctx, desc)
}

// SupportedKinds returns the registered kinds in sorted order.
func (f *Factory) SupportedKinds() []string {
	kinds := make([]string, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (f *Factory) buildMemory(_ context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	return memory.New(desc.Name), nil
}

func (f *Factory) buildSQLite(_ context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	path := desc.Option("path", "")
	if path == "" {
		dir, err := f.resolveDataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(dir, desc.Name+".db")
	}
	return sqlite.Open(desc.Name, path)
}

func (f *Factory) buildPostgres(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	dsn := desc.Option("dsn", "")
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres backend %s requires a dsn", domain.ErrInvalidInput, desc.Name)
	}
	return postgres.Open(ctx, desc.Name, dsn, desc.Option("table", postgres.DefaultTable))
}

func (f *Factory) buildRedis(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	db, err := intOption(desc, "db", 0)
	if err != nil {
		return nil, err
	}
	return redis.Open(ctx, desc.Name, redis.Options{
		Addr:     desc.Option("addr", "localhost:6379"),
		Password: desc.Option("password", ""),
		DB:       db,
		Prefix:   desc.Option("prefix", ""),
	})
}

func (f *Factory) buildObjectStore(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	secure, err := boolOption(desc, "secure", true)
	if err != nil {
		return nil, err
	}
	return objectstore.Open(ctx, desc.Name, objectstore.Options{
		Endpoint:  desc.Option("endpoint", "localhost:9000"),
		AccessKey: desc.Option("access_key", ""),
		SecretKey: desc.Option("secret_key", ""),
		Bucket:    desc.Option("bucket", ""),
		Prefix:    desc.Option("prefix", ""),
		Secure:    secure,
		Region:    desc.Option("region", ""),
	})
}

func (f *Factory) buildVector(ctx context.Context, desc domain.BackendDescriptor) (driven.Backend, error) {
	cfg := f.embedding
	cfg.Provider = desc.Option("provider", cfg.Provider)
	cfg.Model = desc.Option("model", cfg.Model)
	cfg.BaseURL = desc.Option("base_url", cfg.BaseURL)

	embedder, err := f.newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	if err := embedder.Ping(ctx); err != nil {
		_ = embedder.Close()
		return nil, err
	}
	b, err := vector.New(desc.Name, embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	return b, nil
}

func (f *Factory) resolveDataDir() (string, error) {
	if f.dataDir != "" {
		return f.dataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".memweave", "data", "backends"), nil
}

// NewEmbedder creates the embedding service named by cfg.Provider.
func NewEmbedder(cfg domain.EmbeddingConfig) (driven.EmbeddingService, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return ollama.FromConfig(cfg), nil
	case ProviderOpenAI:
		return openai.FromConfig(cfg)
	case "":
		return nil, fmt.Errorf("%w: no embedding provider configured", domain.ErrEmbeddingUnavailable)
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedType, cfg.Provider)
	}
}

func intOption(desc domain.BackendDescriptor, key string, def int) (int, error) {
	raw := desc.Option(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: backend %s option %s: %v", domain.ErrInvalidInput, desc.Name, key, err)
	}
	return v, nil
}

func boolOption(desc domain.BackendDescriptor, key string, def bool) (bool, error) {
	raw := desc.Option(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: backend %s option %s: %v", domain.ErrInvalidInput, desc.Name, key, err)
	}
	return v, nil
}
