package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func testConfig() domain.TelemetryConfig {
	c := domain.Config{Telemetry: domain.TelemetryConfig{
		Exporter:    domain.ExporterOTLP,
		ServiceName: "memweave-test",
	}}
	c.ApplyDefaults()
	return c.Telemetry
}

func TestSetup_DisabledUsesGlobalProviders(t *testing.T) {
	p, err := Setup(context.Background(), domain.DefaultConfig().Telemetry)
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Equal(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_ExportsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	p, err := Setup(ctx, testConfig(), WithVersion("1.2.3"),
		WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "memweave.store")
	span.End()
	require.NoError(t, p.tracer.ForceFlush(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "memweave.store", got[0].Name)
	assert.Contains(t, got[0].Resource.Attributes(), semconv.ServiceName("memweave-test"))
	assert.Contains(t, got[0].Resource.Attributes(), semconv.ServiceVersion("1.2.3"))

	counter, err := p.MeterProvider().Meter("test").Int64Counter("memweave.backend.outcomes")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	require.NoError(t, p.Shutdown(ctx))
}

func TestSetup_ZeroSampleRateDropsSpans(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SampleRate = 0
	spans := tracetest.NewInMemoryExporter()

	p, err := Setup(ctx, cfg, WithSpanExporter(spans), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "memweave.search")
	assert.False(t, span.IsRecording())
	span.End()
	require.NoError(t, p.tracer.ForceFlush(ctx))
	assert.Empty(t, spans.GetSpans())
}

func TestSetup_OTLPExportersStartWithoutCollector(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "127.0.0.1:1"
	cfg.Insecure = true

	p, err := Setup(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	// Nothing listens on the endpoint, so the final flush may fail.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}
