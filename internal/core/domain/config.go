package domain

import (
	"fmt"
	"time"
)

// Config is the full orchestrator configuration.
type Config struct {
	// Orchestrator holds fan-out and lifecycle settings.
	Orchestrator OrchestratorConfig

	// Anchor configures the integrity anchor.
	Anchor AnchorConfig

	// Snapshot configures unified index snapshots.
	Snapshot SnapshotConfig

	// Embedding configures the provider used by vector backends.
	Embedding EmbeddingConfig

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig

	// Backends lists the backends to register at startup.
	Backends []BackendDescriptor
}

// OrchestratorConfig holds fan-out deadlines and lifecycle settings.
type OrchestratorConfig struct {
	// WriteTimeout bounds a store fan-out.
	WriteTimeout time.Duration

	// SearchTimeout bounds a search fan-out.
	SearchTimeout time.Duration

	// ReconcileTimeout bounds a single reconciliation tick.
	ReconcileTimeout time.Duration

	// ReconcileLookback widens every delta pull backwards from LastSync.
	// A record's timestamp is taken before its write is sent, so a write
	// can land on a backend after a newer one already moved LastSync past
	// it. The window must cover the write timeout plus clock skew.
	ReconcileLookback time.Duration

	// ShutdownGrace bounds how long shutdown waits for in-flight work.
	ShutdownGrace time.Duration

	// DefaultLimit is the search limit when callers pass zero.
	DefaultLimit int

	// PropagationConcurrency caps concurrent bulk applies per tick.
	PropagationConcurrency int
}

// AnchorConfig configures the integrity anchor.
type AnchorConfig struct {
	// Endpoint is the anchor service URL. Empty disables anchoring.
	Endpoint string

	// Token is sent as a bearer token when set.
	Token string

	// RatePerSecond limits publish calls.
	RatePerSecond float64

	// Timeout bounds a single publish call.
	Timeout time.Duration
}

// Enabled reports whether an anchor endpoint is configured.
func (c AnchorConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Snapshot kinds.
const (
	SnapshotNone   = "none"
	SnapshotSQLite = "sqlite"
	SnapshotS3     = "s3"
)

// SnapshotConfig configures index snapshots.
type SnapshotConfig struct {
	// Kind is none, sqlite or s3.
	Kind string

	// Interval is the snapshot period.
	Interval time.Duration

	// Bucket and Key locate the snapshot object for s3.
	Bucket string
	Key    string

	// Endpoint overrides the S3 endpoint (MinIO, localstack).
	Endpoint string

	// Region is the S3 region.
	Region string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is ollama or openai. Empty disables embeddings.
	Provider string

	// Model is the embedding model name.
	Model string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// APIKey authenticates with the provider.
	APIKey string
}

// Telemetry exporters.
const (
	ExporterNone = "none"
	ExporterOTLP = "otlp"
)

// TelemetryConfig configures the OpenTelemetry trace and metric providers.
type TelemetryConfig struct {
	// Exporter is none or otlp. With none, spans and metrics go to the
	// global no-op providers.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// SampleRate is the fraction of traces recorded, from 0 to 1.
	SampleRate float64

	// MetricInterval is the metric export period.
	MetricInterval time.Duration

	// ServiceName is reported as service.name.
	ServiceName string
}

// Enabled reports whether an exporter is configured.
func (c TelemetryConfig) Enabled() bool {
	return c.Exporter != "" && c.Exporter != ExporterNone
}

// DefaultClockSkew is the clock skew allowance added to the write timeout
// for the default reconcile lookback.
const DefaultClockSkew = 5 * time.Second

// DefaultConfig returns a configuration with defaults applied and no backends.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	o := &c.Orchestrator
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SearchTimeout == 0 {
		o.SearchTimeout = 3 * time.Second
	}
	if o.ReconcileTimeout == 0 {
		o.ReconcileTimeout = 30 * time.Second
	}
	if o.ReconcileLookback == 0 {
		o.ReconcileLookback = o.WriteTimeout + DefaultClockSkew
	}
	if o.ShutdownGrace == 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.DefaultLimit == 0 {
		o.DefaultLimit = 20
	}
	if o.PropagationConcurrency == 0 {
		o.PropagationConcurrency = 4
	}
	t := &c.Telemetry
	if t.Exporter == "" {
		t.Exporter = ExporterNone
	}
	if t.Exporter == ExporterOTLP && t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1
	}
	if t.MetricInterval == 0 {
		t.MetricInterval = 15 * time.Second
	}
	if t.ServiceName == "" {
		t.ServiceName = "memweave"
	}
	if c.Anchor.RatePerSecond == 0 {
		c.Anchor.RatePerSecond = 5
	}
	if c.Anchor.Timeout == 0 {
		c.Anchor.Timeout = 5 * time.Second
	}
	if c.Snapshot.Kind == "" {
		c.Snapshot.Kind = SnapshotNone
	}
	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = time.Minute
	}
	if c.Snapshot.Key == "" {
		c.Snapshot.Key = "memweave/index.snapshot.zst"
	}
	for i := range c.Backends {
		c.Backends[i] = c.Backends[i].WithDefaults()
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	o := c.Orchestrator
	if o.WriteTimeout <= 0 || o.SearchTimeout <= 0 || o.ReconcileTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidInput)
	}
	if o.ReconcileLookback < 0 {
		return fmt.Errorf("%w: reconcile lookback must not be negative", ErrInvalidInput)
	}
	if o.DefaultLimit < 0 {
		return fmt.Errorf("%w: default limit must not be negative", ErrInvalidInput)
	}
	switch c.Telemetry.Exporter {
	case "", ExporterNone, ExporterOTLP:
	default:
		return fmt.Errorf("%w: unknown telemetry exporter %q", ErrInvalidInput, c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry sample rate must be between 0 and 1", ErrInvalidInput)
	}
	switch c.Snapshot.Kind {
	case SnapshotNone, SnapshotSQLite:
	case SnapshotS3:
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("%w: s3 snapshot requires a bucket", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown snapshot kind %q", ErrInvalidInput, c.Snapshot.Kind)
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return err
		}
		if b.Kind == "" {
			return fmt.Errorf("%w: backend %s has no kind", ErrInvalidInput, b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("%w: duplicate backend %s", ErrInvalidInput, b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}
