// Package tracing wires sentinel.Tracer to OpenTelemetry, using a
// stdout span exporter for local development -- the teacher's go.mod
// already declares the full otel stack (sdk, exporters, trace, metric)
// without exercising any of it; this package is the first real consumer.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Provider wraps an sdktrace.TracerProvider plus the single tracer the
// sentinel's decision path uses.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer oteltrace.Tracer
}

// NewStdout builds a Provider exporting spans to stdout. The start
// command builds it in development and production mode alike.
func NewStdout(serviceVersion string) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "sentinel-gate"),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer("github.com/sentinelgate/sentinel")}, nil
}

// StartSpan implements sentinel.Tracer.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// Shutdown flushes and stops the provider. Should be called once at
// process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
