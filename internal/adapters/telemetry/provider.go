// Package telemetry exports settlement traces and metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
)

const instrumentationName = "settlement"

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector; empty keeps telemetry in-process
	Insecure       bool
	SampleRate     float64
	ExportInterval time.Duration
}

// Provider implements ports.Telemetry. Operation spans carry RED metrics;
// settlement counters record both an event count and the KRW amount moved.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram

	mu       sync.Mutex
	counters map[string]settlementInstruments
}

type settlementInstruments struct {
	count  metric.Int64Counter
	amount metric.Int64Counter
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "telemetry", "layer", "adapter")

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if cfg.OTLPEndpoint == "" {
		logger.InfoContext(ctx, "otlp export disabled", "outcome", "skipped")
		return newProvider(
			sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)),
			logger,
		)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "otlp export enabled",
		"outcome", "success",
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return newProvider(tp, mp, logger)
}

func newProvider(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(instrumentationName),
		meter:          mp.Meter(instrumentationName),
		logger:         logger,
		counters:       make(map[string]settlementInstruments),
	}
	var err error
	if p.operations, err = p.meter.Int64Counter("settlement.operations.total",
		metric.WithDescription("Settlement operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if p.failures, err = p.meter.Int64Counter("settlement.operations.errors",
		metric.WithDescription("Settlement operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if p.duration, err = p.meter.Float64Histogram("settlement.operations.duration",
		metric.WithDescription("Settlement operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) TrackOperation(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	start := time.Now()
	kvs := toAttributes(attrs)
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(kvs...),
	)
	op := metric.WithAttributes(attribute.String("operation", name))
	p.operations.Add(ctx, 1, op)

	return ctx, func(err error) {
		p.duration.Record(ctx, time.Since(start).Seconds(), op)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.failures.Add(ctx, 1, op)
		}
		span.End()
	}
}

func (p *Provider) RecordSettlement(ctx context.Context, name, outcome string, amount int64) {
	inst, err := p.instruments(name)
	if err != nil {
		p.logger.WarnContext(ctx, "settlement metric unavailable",
			"operation", "record_settlement",
			"outcome", "failed",
			"metric", name,
			"error", err,
		)
		return
	}
	set := metric.WithAttributes(attribute.String("outcome", outcome))
	inst.count.Add(ctx, 1, set)
	if amount > 0 {
		inst.amount.Add(ctx, amount, set)
	}
}

func (p *Provider) instruments(name string) (settlementInstruments, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.counters[name]; ok {
		return inst, nil
	}
	count, err := p.meter.Int64Counter(name, metric.WithUnit("{event}"))
	if err != nil {
		return settlementInstruments{}, err
	}
	amount, err := p.meter.Int64Counter(name+".amount", metric.WithUnit("{KRW}"))
	if err != nil {
		return settlementInstruments{}, err
	}
	inst := settlementInstruments{count: count, amount: amount}
	p.counters[name] = inst
	return inst, nil
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		firstErr = err
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, attrs[k]))
	}
	return out
}

var _ ports.Telemetry = (*Provider)(nil)
