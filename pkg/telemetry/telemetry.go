// Package telemetry provides ambient OpenTelemetry tracing and metrics
// across the validate orchestrator, the gate orchestrator, and the tool
// runner: one span per validate/gate call and one span per tool
// invocation, plus Rate/Error/Duration counters. This is carried
// regardless of the distilled spec's "no ranking heuristics" non-goal,
// which governs the pass/fail decision itself, not ambient
// instrumentation around it — disabled by default, and every exported
// method is a safe no-op on a nil *Provider so callers never need to
// branch on whether telemetry is configured.
//
// Grounded directly on the teacher's core/pkg/observability package:
// same Config/Provider shape, same OTLP-over-gRPC exporter wiring, same
// RED (Rate, Errors, Duration) metric set and TrackOperation helper,
// narrowed to this port's three instrumented call sites.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName  string
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
}

// instrumentationName is the tracer/meter name reported to collectors.
const instrumentationName = "compas.gate"

// ConfigFromEnv builds a Config from AI_DX_OTEL_ENABLED / AI_DX_OTEL_ENDPOINT
// / AI_DX_OTEL_INSECURE. Telemetry defaults to disabled: a CLI quality gate
// must never block or slow down on a missing collector, so opting in is
// explicit.
func ConfigFromEnv() Config {
	return Config{
		ServiceName:  "compas",
		Enabled:      os.Getenv("AI_DX_OTEL_ENABLED") == "1" || os.Getenv("AI_DX_OTEL_ENABLED") == "true",
		OTLPEndpoint: envOr("AI_DX_OTEL_ENDPOINT", "localhost:4317"),
		Insecure:     os.Getenv("AI_DX_OTEL_INSECURE") != "false",
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// Provider manages the OpenTelemetry trace and metric providers. A nil
// *Provider is valid and makes every method a no-op.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New builds a Provider from cfg. When cfg.Enabled is false, New returns a
// nil *Provider and a nil error — telemetry is off, at zero cost.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	p := &Provider{}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("telemetry: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("telemetry: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName)
	p.meter = otel.Meter(instrumentationName)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("telemetry: init metrics: %w", err)
	}

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	if p.requestCounter, err = p.meter.Int64Counter("compas.operations.total",
		metric.WithDescription("Total number of validate/gate/tool operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("compas.operations.errors",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("compas.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		return err
	}
	if p.activeOperations, err = p.meter.Int64UpDownCounter("compas.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and releases the providers. A no-op on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	globalOnce     sync.Once
	globalProvider *Provider
)

// Global returns the process-wide Provider, lazily built from
// ConfigFromEnv on first use. Every call site in the validator, gate, and
// runner packages uses this instead of threading a Provider through every
// function signature, mirroring the teacher's own use of otel's global
// tracer/meter provider registration. Safe to call from multiple
// goroutines; safe to use even when telemetry is disabled (returns nil).
func Global() *Provider {
	globalOnce.Do(func() {
		p, err := New(context.Background(), ConfigFromEnv())
		if err == nil {
			globalProvider = p
		}
	})
	return globalProvider
}

// TrackOperation starts a span and active-operation tracking for name,
// returning a context carrying the span and a completion function that
// must be called with the operation's terminal error (nil on success). A
// nil Provider returns the input context unchanged and a no-op
// completion function.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if p == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			allAttrs := append(append([]attribute.KeyValue(nil), attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
		}
		span.End()
	}
}
