package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"maps-workers/internal/common/config"
)

// Observability bundles the OpenTelemetry meter and tracer used by the map
// service. A zero or nil value is safe to use and records nothing.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	opCounter      otelmetric.Int64Counter
	opDuration     otelmetric.Float64Histogram
}

// New wires a meter provider exporting through the Prometheus registry and,
// when tracing is enabled, a tracer provider exporting to Jaeger.
func New(serviceName string, tracing config.TracingConfig) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	opCounter, err := meter.Int64Counter(
		"maps.operations",
		otelmetric.WithDescription("Number of map service operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operation counter: %w", err)
	}

	opDuration, err := meter.Float64Histogram(
		"maps.operations.duration",
		otelmetric.WithDescription("Map service operation duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operation histogram: %w", err)
	}

	obs := &Observability{
		meterProvider: provider,
		opCounter:     opCounter,
		opDuration:    opDuration,
		tracer:        otel.Tracer(serviceName),
	}

	if tracing.Enabled {
		tp, err := newTracerProvider(serviceName, tracing)
		if err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, err
		}
		otel.SetTracerProvider(tp)
		obs.tracerProvider = tp
		obs.tracer = tp.Tracer(serviceName)
	}

	return obs, nil
}

// Noop returns an Observability that records nothing.
func Noop() *Observability {
	return &Observability{tracer: noop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a span named name under ctx.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := trace.Tracer(noop.NewTracerProvider().Tracer(""))
	if o != nil && o.tracer != nil {
		tracer = o.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordOperation counts one operation and its duration under status.
func (o *Observability) RecordOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	if o.opCounter != nil {
		o.opCounter.Add(ctx, 1, attrs)
	}
	if o.opDuration != nil {
		o.opDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
