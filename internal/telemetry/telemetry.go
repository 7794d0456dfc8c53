// Package telemetry installs the OpenTelemetry tracer provider used by the CLI and server.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = ""
	ExporterStdout = "stdout"

	ServiceName = "edgar-insider"
)

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Setup builds a tracer provider for exporter and installs it globally.
// ExporterNone returns a no-op provider and leaves the global one alone.
// Spans exported to stdout are written to w (os.Stderr when nil).
func Setup(ctx context.Context, exporter string, w io.Writer) (trace.TracerProvider, Shutdown, error) {
	switch exporter {
	case ExporterNone, "none", "off":
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	if w == nil {
		w = os.Stderr
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("stdout trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("resource init: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, tp.Shutdown, nil
}
