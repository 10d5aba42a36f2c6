// Package observability provides OpenTelemetry-based observability for the
// arbitration engine: distributed tracing with OTLP export and RED
// (Rate, Errors, Duration) metrics over orchestrations, dispatches, and
// council deliberations.
//
// A nil *Provider is valid everywhere: every method no-ops, so components
// take an optional provider without guarding call sites.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "arbiter",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the engine's RED
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	orchestrations metric.Int64Counter
	errorCounter   metric.Int64Counter
	dispatchHist   metric.Float64Histogram
	dispatchActive metric.Int64UpDownCounter
	councilHist    metric.Float64Histogram
	councilRounds  metric.Int64Histogram
}

// New creates an observability provider. When disabled, every method is a
// no-op and the zero instruments stay nil-safe.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("arbiter",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("arbiter",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	p.orchestrations, err = p.meter.Int64Counter("arbiter.orchestrations",
		metric.WithDescription("Orchestrations reaching a terminal state, by outcome"))
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("arbiter.errors",
		metric.WithDescription("Errors by fault kind"))
	if err != nil {
		return err
	}
	p.dispatchHist, err = p.meter.Float64Histogram("arbiter.dispatch.duration",
		metric.WithDescription("Worker execution duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	p.dispatchActive, err = p.meter.Int64UpDownCounter("arbiter.dispatch.active",
		metric.WithDescription("Worker executions in flight"))
	if err != nil {
		return err
	}
	p.councilHist, err = p.meter.Float64Histogram("arbiter.council.duration",
		metric.WithDescription("Council deliberation duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	p.councilRounds, err = p.meter.Int64Histogram("arbiter.council.rounds",
		metric.WithDescription("Deliberation rounds until consensus or exhaustion"))
	return err
}

// StartSpan begins a traced operation. Safe on a nil provider: the caller
// gets a no-op span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordOrchestration counts one orchestration reaching a terminal state.
func (p *Provider) RecordOrchestration(ctx context.Context, outcome string) {
	if p == nil || p.orchestrations == nil {
		return
	}
	p.orchestrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordError counts one fault by taxonomy kind.
func (p *Provider) RecordError(ctx context.Context, kind string) {
	if p == nil || p.errorCounter == nil || kind == "" {
		return
	}
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// DispatchStarted / DispatchEnded track worker executions in flight.
func (p *Provider) DispatchStarted(ctx context.Context) {
	if p == nil || p.dispatchActive == nil {
		return
	}
	p.dispatchActive.Add(ctx, 1)
}

func (p *Provider) DispatchEnded(ctx context.Context) {
	if p == nil || p.dispatchActive == nil {
		return
	}
	p.dispatchActive.Add(ctx, -1)
}

// RecordDispatch observes one worker execution's latency and outcome.
func (p *Provider) RecordDispatch(ctx context.Context, workerID string, elapsed time.Duration, success bool) {
	if p == nil || p.dispatchHist == nil {
		return
	}
	p.dispatchHist.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("worker_id", workerID),
		attribute.Bool("success", success),
	))
}

// RecordDeliberation observes one council deliberation.
func (p *Provider) RecordDeliberation(ctx context.Context, rounds int, elapsed time.Duration, consensus bool) {
	if p == nil || p.councilHist == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("consensus", consensus))
	p.councilHist.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	p.councilRounds.Record(ctx, int64(rounds), attrs)
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
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
