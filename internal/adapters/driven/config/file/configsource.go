package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// EnvConfigPath overrides the default configuration file location.
const EnvConfigPath = "MEMWEAVE_CONFIG"

// Ensure ConfigSource implements the interface.
var _ driven.ConfigSource = (*ConfigSource)(nil)

// ConfigSource is a TOML file implementation of driven.ConfigSource.
type ConfigSource struct {
	mu       sync.Mutex
	filePath string
}

// NewConfigSource creates a config source for path.
// An empty path resolves to $MEMWEAVE_CONFIG, then ~/.memweave/config.toml.
func NewConfigSource(path string) (*ConfigSource, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".memweave", "config.toml")
	}
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	return &ConfigSource{filePath: expanded}, nil
}

// Path returns the configuration file path.
func (s *ConfigSource) Path() string {
	return s.filePath
}

// Load reads the file, applies defaults and validates the result.
// A missing file yields the default configuration with no backends.
func (s *ConfigSource) Load() (domain.Config, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.filePath)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DefaultConfig(), nil
		}
		return domain.Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Save validates cfg and writes it atomically with restricted permissions.
func (s *ConfigSource) Save(cfg domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(fromDomain(cfg))
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}
	return os.Rename(tmp.Name(), s.filePath)
}

// Parse decodes TOML configuration, applies defaults and validates.
func Parse(data []byte) (domain.Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return domain.Config{}, fmt.Errorf("%w: parsing config: %v", domain.ErrInvalidInput, err)
	}
	cfg, err := fc.toDomain()
	if err != nil {
		return domain.Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// duration decodes Go duration strings such as "5s" or "1m30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type fileConfig struct {
	Orchestrator orchestratorSection `toml:"orchestrator"`
	Anchor       anchorSection       `toml:"anchor"`
	Snapshot     snapshotSection     `toml:"snapshot"`
	Embedding    embeddingSection    `toml:"embedding"`
	Telemetry    telemetrySection    `toml:"telemetry"`
	Backends     []backendSection    `toml:"backends"`
}

type orchestratorSection struct {
	WriteTimeout           duration `toml:"write_timeout,omitempty"`
	SearchTimeout          duration `toml:"search_timeout,omitempty"`
	ReconcileTimeout       duration `toml:"reconcile_timeout,omitempty"`
	ReconcileLookback      duration `toml:"reconcile_lookback,omitempty"`
	ShutdownGrace          duration `toml:"shutdown_grace,omitempty"`
	DefaultLimit           int      `toml:"default_limit,omitempty"`
	PropagationConcurrency int      `toml:"propagation_concurrency,omitempty"`
}

type anchorSection struct {
	Endpoint      string   `toml:"endpoint,omitempty"`
	Token         string   `toml:"token,omitempty"`
	RatePerSecond float64  `toml:"rate_per_second,omitempty"`
	Timeout       duration `toml:"timeout,omitempty"`
}

type snapshotSection struct {
	Kind     string   `toml:"kind,omitempty"`
	Interval duration `toml:"interval,omitempty"`
	Bucket   string   `toml:"bucket,omitempty"`
	Key      string   `toml:"key,omitempty"`
	Endpoint string   `toml:"endpoint,omitempty"`
	Region   string   `toml:"region,omitempty"`
}

type embeddingSection struct {
	Provider string `toml:"provider,omitempty"`
	Model    string `toml:"model,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

type telemetrySection struct {
	Exporter       string   `toml:"exporter,omitempty"`
	Endpoint       string   `toml:"endpoint,omitempty"`
	Insecure       bool     `toml:"insecure,omitempty"`
	SampleRate     float64  `toml:"sample_rate,omitempty"`
	MetricInterval duration `toml:"metric_interval,omitempty"`
	ServiceName    string   `toml:"service_name,omitempty"`
}

type backendSection struct {
	Name              string            `toml:"name"`
	Kind              string            `toml:"kind"`
	Role              string            `toml:"role,omitempty"`
	Priority          int               `toml:"priority"`
	ReconcileInterval duration          `toml:"reconcile_interval,omitempty"`
	Options           map[string]string `toml:"options,omitempty"`
}

func (fc fileConfig) toDomain() (domain.Config, error) {
	cfg := domain.Config{
		Orchestrator: domain.OrchestratorConfig{
			WriteTimeout:           time.Duration(fc.Orchestrator.WriteTimeout),
			SearchTimeout:          time.Duration(fc.Orchestrator.SearchTimeout),
			ReconcileTimeout:       time.Duration(fc.Orchestrator.ReconcileTimeout),
			ReconcileLookback:      time.Duration(fc.Orchestrator.ReconcileLookback),
			ShutdownGrace:          time.Duration(fc.Orchestrator.ShutdownGrace),
			DefaultLimit:           fc.Orchestrator.DefaultLimit,
			PropagationConcurrency: fc.Orchestrator.PropagationConcurrency,
		},
		Anchor: domain.AnchorConfig{
			Endpoint:      fc.Anchor.Endpoint,
			Token:         os.ExpandEnv(fc.Anchor.Token),
			RatePerSecond: fc.Anchor.RatePerSecond,
			Timeout:       time.Duration(fc.Anchor.Timeout),
		},
		Snapshot: domain.SnapshotConfig{
			Kind:     fc.Snapshot.Kind,
			Interval: time.Duration(fc.Snapshot.Interval),
			Bucket:   fc.Snapshot.Bucket,
			Key:      fc.Snapshot.Key,
			Endpoint: fc.Snapshot.Endpoint,
			Region:   fc.Snapshot.Region,
		},
		Embedding: domain.EmbeddingConfig{
			Provider: fc.Embedding.Provider,
			Model:    fc.Embedding.Model,
			BaseURL:  fc.Embedding.BaseURL,
			APIKey:   os.ExpandEnv(fc.Embedding.APIKey),
		},
		Telemetry: domain.TelemetryConfig{
			Exporter:       fc.Telemetry.Exporter,
			Endpoint:       os.ExpandEnv(fc.Telemetry.Endpoint),
			Insecure:       fc.Telemetry.Insecure,
			SampleRate:     fc.Telemetry.SampleRate,
			MetricInterval: time.Duration(fc.Telemetry.MetricInterval),
			ServiceName:    fc.Telemetry.ServiceName,
		},
	}

	for _, b := range fc.Backends {
		opts := make(map[string]string, len(b.Options))
		for k, v := range b.Options {
			v = os.ExpandEnv(v)
			if k == "path" {
				expanded, err := expandHome(v)
				if err != nil {
					return domain.Config{}, err
				}
				v = expanded
			}
			opts[k] = v
		}
		cfg.Backends = append(cfg.Backends, domain.BackendDescriptor{
			Name:              b.Name,
			Kind:              b.Kind,
			Role:              domain.BackendRole(b.Role),
			Priority:          b.Priority,
			ReconcileInterval: time.Duration(b.ReconcileInterval),
			Options:           opts,
		})
	}
	return cfg, nil
}

func fromDomain(cfg domain.Config) fileConfig {
	fc := fileConfig{
		Orchestrator: orchestratorSection{
			WriteTimeout:           duration(cfg.Orchestrator.WriteTimeout),
			SearchTimeout:          duration(cfg.Orchestrator.SearchTimeout),
			ReconcileTimeout:       duration(cfg.Orchestrator.ReconcileTimeout),
			ReconcileLookback:      duration(cfg.Orchestrator.ReconcileLookback),
			ShutdownGrace:          duration(cfg.Orchestrator.ShutdownGrace),
			DefaultLimit:           cfg.Orchestrator.DefaultLimit,
			PropagationConcurrency: cfg.Orchestrator.PropagationConcurrency,
		},
		Anchor: anchorSection{
			Endpoint:      cfg.Anchor.Endpoint,
			Token:         cfg.Anchor.Token,
			RatePerSecond: cfg.Anchor.RatePerSecond,
			Timeout:       duration(cfg.Anchor.Timeout),
		},
		Snapshot: snapshotSection{
			Kind:     cfg.Snapshot.Kind,
			Interval: duration(cfg.Snapshot.Interval),
			Bucket:   cfg.Snapshot.Bucket,
			Key:      cfg.Snapshot.Key,
			Endpoint: cfg.Snapshot.Endpoint,
			Region:   cfg.Snapshot.Region,
		},
		Embedding: embeddingSection{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		},
		Telemetry: telemetrySection{
			Exporter:       cfg.Telemetry.Exporter,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			SampleRate:     cfg.Telemetry.SampleRate,
			MetricInterval: duration(cfg.Telemetry.MetricInterval),
			ServiceName:    cfg.Telemetry.ServiceName,
		},
	}

	backends := append([]domain.BackendDescriptor(nil), cfg.Backends...)
	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].Priority < backends[j].Priority
	})
	for _, b := range backends {
		fc.Backends = append(fc.Backends, backendSection{
			Name:              b.Name,
			Kind:              b.Kind,
			Role:              string(b.Role),
			Priority:          b.Priority,
			ReconcileInterval: duration(b.ReconcileInterval),
			Options:           b.Options,
		})
	}
	return fc
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
