package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options configures the meter and tracer providers.
type Options struct {
	ServiceName    string
	JaegerEndpoint string // empty disables span export
}

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer

	jobCounter      otelmetric.Int64Counter
	jobDuration     otelmetric.Float64Histogram
	routingCounter  otelmetric.Int64Counter
	routingDuration otelmetric.Float64Histogram
}

// New wires an otel meter exporting through the prometheus registry and a
// tracer exporting to Jaeger when an endpoint is configured.
func New(opts Options) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	mp := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.JaegerEndpoint != "" {
		je, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.JaegerEndpoint)))
		if err != nil {
			return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(je))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	o := &Observability{
		meterProvider:  mp,
		tracerProvider: tp,
		meter:          mp.Meter(opts.ServiceName),
		tracer:         tp.Tracer(opts.ServiceName),
	}
	o.initInstruments()
	return o, nil
}

// NewNoop returns an Observability that records nothing.
func NewNoop() *Observability {
	o := &Observability{
		meter:  metricnoop.NewMeterProvider().Meter("noop"),
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
	}
	o.initInstruments()
	return o
}

func (o *Observability) initInstruments() {
	o.jobCounter, _ = o.meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	o.jobDuration, _ = o.meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)
	o.routingCounter, _ = o.meter.Int64Counter(
		"referrals.routed",
		otelmetric.WithDescription("Referral routing requests by partner and status"),
	)
	o.routingDuration, _ = o.meter.Float64Histogram(
		"referrals.routing.duration",
		otelmetric.WithDescription("Time spent determining, signing and auditing a referral"),
		otelmetric.WithUnit("ms"),
	)
}

// StartSpan starts a span on the service tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordRouting counts one routing decision and its latency.
func (o *Observability) RecordRouting(ctx context.Context, partner, status string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("partner", partner),
		attribute.String("status", status),
	)
	if o.routingCounter != nil {
		o.routingCounter.Add(ctx, 1, attrs)
	}
	if o.routingDuration != nil {
		o.routingDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	var firstErr error
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
