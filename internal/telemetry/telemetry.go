// Package telemetry wires OpenTelemetry metrics and traces for scan runs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "scanwarden"

type Options struct {
	// Endpoint is the OTLP gRPC collector address. Empty keeps the global
	// no-op providers.
	Endpoint       string
	ServiceName    string
	Insecure       bool
	ExportInterval time.Duration
}

// Setup installs OTLP exporters when an endpoint is configured. The returned
// shutdown flushes and stops them; it is always non-nil.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return noop, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = instrumentationName
	}
	if opts.ExportInterval <= 0 {
		opts.ExportInterval = 10 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
	))
	if err != nil {
		return noop, fmt.Errorf("telemetry resource: %w", err)
	}

	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithDialOption(dialOpts...)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.Endpoint), otlpmetricgrpc.WithDialOption(dialOpts...)}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(initCtx, traceOpts...)
	if err != nil {
		return noop, fmt.Errorf("otlp trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(initCtx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return noop, fmt.Errorf("otlp metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(opts.ExportInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info().Str("component", "telemetry").Str("endpoint", opts.Endpoint).Msg("otel exporters initialized")

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Instruments records scan run metrics and spans.
type Instruments struct {
	tracer   trace.Tracer
	runs     metric.Int64Counter
	scanned  metric.Int64Counter
	threats  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstruments binds instruments to the given providers. Nil providers fall
// back to the global ones.
func NewInstruments(mp metric.MeterProvider, tp trace.TracerProvider) *Instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	// Instrument creation only fails on invalid names; these are constants.
	runs, _ := meter.Int64Counter("scanwarden_runs_total",
		metric.WithDescription("Scan runs by terminal state."))
	scanned, _ := meter.Int64Counter("scanwarden_artifacts_scanned_total",
		metric.WithDescription("Artifacts evaluated against the rule set."))
	threats, _ := meter.Int64Counter("scanwarden_threats_found_total",
		metric.WithDescription("Artifacts flagged as suspicious."))
	duration, _ := meter.Float64Histogram("scanwarden_run_duration_ms",
		metric.WithDescription("Scan run wall time."), metric.WithUnit("ms"))

	return &Instruments{
		tracer:   tp.Tracer(instrumentationName),
		runs:     runs,
		scanned:  scanned,
		threats:  threats,
		duration: duration,
	}
}

// StartRun opens the span for one scan run.
func (i *Instruments) StartRun(ctx context.Context, runID, mode string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("scan.run_id", runID),
		attribute.String("scan.mode", mode),
	))
}

// RecordRun updates counters for a finished run.
func (i *Instruments) RecordRun(ctx context.Context, state, mode string, scanned, threats int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", state), attribute.String("mode", mode))
	i.runs.Add(ctx, 1, attrs)
	i.scanned.Add(ctx, int64(scanned), attrs)
	i.threats.Add(ctx, int64(threats), attrs)
	i.duration.Record(ctx, float64(d.Milliseconds()), attrs)
}
