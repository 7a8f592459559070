// Package telemetry wires OpenTelemetry tracing for the relay pipeline.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "wa-relay"

// Config controls the OTLP exporter.
type Config struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// Provider owns the SDK tracer provider. A Provider with tracing disabled
// is valid and its methods are no-ops.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// ForceFlush exports all buffered spans.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// FlushAfter wraps fn so buffered spans are exported before it returns.
// Lambda freezes the process between invocations, so the batcher never gets
// a chance to run on its own.
func FlushAfter[Req, Resp any](p *Provider, logger *slog.Logger, fn func(context.Context, Req) (Resp, error)) func(context.Context, Req) (Resp, error) {
	return func(ctx context.Context, req Req) (Resp, error) {
		resp, err := fn(ctx, req)
		if ferr := p.ForceFlush(context.WithoutCancel(ctx)); ferr != nil {
			logger.Warn("tracer flush failed", "err", ferr)
		}
		return resp, err
	}
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP.
// When tracing is disabled the global no-op provider stays in place.
func InitTracer(ctx context.Context, cfg Config, logger *slog.Logger) *Provider {
	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return &Provider{}
	}

	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		logger.Warn("failed to create OTLP exporter, tracing disabled", "err", err)
		return &Provider{}
	}

	name := cfg.ServiceName
	if name == "" {
		name = instrumentationName
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(name),
		)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", cfg.Endpoint)
	return &Provider{tp: tp}
}

// StartSpan starts a span from the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}
