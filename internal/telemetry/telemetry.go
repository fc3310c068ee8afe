// Package telemetry wires an OpenTelemetry tracer provider around worker
// operations, so each request's lifetime is recorded as a span tagged with
// its opcode and path. Uses the stdout trace exporter rather than an
// OTLP/gRPC exporter: ramfsd has no external collector to ship spans to.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/etrian-dev/ramfsd/internal/protocol"
)

const tracerName = "github.com/etrian-dev/ramfsd/internal/worker"

// Init installs a TracerProvider that writes spans as pretty-printed JSON to
// w, and returns a shutdown func to flush on termination. Passing a nil w
// disables span output (io.Discard) while still exercising the SDK.
func Init(w io.Writer) (func(context.Context) error, error) {
	if w == nil {
		w = io.Discard
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("ramfsd")))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartOp opens a span for one dispatched client operation.
func StartOp(ctx context.Context, op protocol.Op, path string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, op.String(),
		trace.WithAttributes(
			attribute.String("ramfsd.op", op.String()),
			attribute.String("ramfsd.path", path),
		),
	)
}
