// Package telemetry installs the OpenTelemetry SDK trace and metric
// providers described by domain.TelemetryConfig.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/logger"
)

const defaultBatchTimeout = 5 * time.Second

// Option configures Setup.
type Option func(*options)

type options struct {
	version      string
	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
}

// WithVersion sets service.version on the resource.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithSpanExporter replaces the OTLP span exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.spanExporter = exp
	}
}

// WithMetricReader replaces the periodic OTLP metric reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.metricReader = r
	}
}

// Providers holds the installed SDK providers. The zero value hands out
// the global providers and has nothing to shut down.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Setup builds SDK providers for cfg. With the none exporter it returns
// zero Providers.
func Setup(ctx context.Context, cfg domain.TelemetryConfig, opts ...Option) (*Providers, error) {
	if !cfg.Enabled() {
		return &Providers{}, nil
	}
	o := &options{version: "dev"}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(o.version),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	spans := o.spanExporter
	if spans == nil {
		spans, err = newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	reader := o.metricReader
	if reader == nil {
		exp, err := newMetricExporter(ctx, cfg)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.MetricInterval))
	}

	p := &Providers{
		tracer: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(defaultBatchTimeout)),
			sdktrace.WithSampler(sampler(cfg.SampleRate)),
		),
		meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}
	logger.Debug("telemetry: exporting to %s via %s (sample rate %.2f)",
		cfg.Endpoint, cfg.Exporter, cfg.SampleRate)
	return p, nil
}

func newSpanExporter(ctx context.Context, cfg domain.TelemetryConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}
	return exp, nil
}

func newMetricExporter(ctx context.Context, cfg domain.TelemetryConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	return exp, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Enabled reports whether SDK providers are installed.
func (p *Providers) Enabled() bool {
	return p.tracer != nil
}

// TracerProvider returns the SDK tracer provider, or the global one.
func (p *Providers) TracerProvider() trace.TracerProvider {
	if p.tracer == nil {
		return otel.GetTracerProvider()
	}
	return p.tracer
}

// MeterProvider returns the SDK meter provider, or the global one.
func (p *Providers) MeterProvider() metric.MeterProvider {
	if p.meter == nil {
		return otel.GetMeterProvider()
	}
	return p.meter
}

// Shutdown flushes pending spans and metrics and stops the exporters.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
