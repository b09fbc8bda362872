package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

const instrumentationName = "github.com/custodia-labs/memweave/internal/core/services"

// Attribute keys used on spans and metrics.
const (
	attrBackend   = attribute.Key("memweave.backend")
	attrOperation = attribute.Key("memweave.operation")
	attrStatus    = attribute.Key("memweave.status")
	attrRecordID  = attribute.Key("memweave.record_id")
	attrAccepted  = attribute.Key("memweave.backends_accepted")
	attrTotal     = attribute.Key("memweave.backends_total")
	attrResults   = attribute.Key("memweave.results")
	attrKind      = attribute.Key("memweave.fusion_kind")
)

// telemetry bundles the tracer and instruments used by services.
type telemetry struct {
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// newTelemetry builds instruments from the given providers, falling back
// to the global providers when nil.
func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("memweave.backend.outcomes",
		metric.WithDescription("Backend operation outcomes by backend, operation and status"))
	if err != nil {
		otel.Handle(err)
	}
	return &telemetry{
		tracer:   tp.Tracer(instrumentationName),
		outcomes: outcomes,
	}
}

func (t *telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// recordOutcomes counts one outcome per backend.
func (t *telemetry) recordOutcomes(ctx context.Context, op string, outcomes []domain.BackendOutcome) {
	if t.outcomes == nil {
		return
	}
	for _, o := range outcomes {
		t.outcomes.Add(ctx, 1, metric.WithAttributes(
			attrBackend.String(o.Backend),
			attrOperation.String(op),
			attrStatus.String(string(o.Status)),
		))
	}
}

// endSpan records err on the span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
