// Package observability wires OpenTelemetry tracing for tablemirror.
//
// Tracing is optional and disabled by default. When disabled the global
// tracer provider stays the OpenTelemetry no-op, so instrumented code pays
// nothing for the spans it opens.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
)

const tracerName = "github.com/tablemirror/tablemirror"

// Init configures the global tracer provider from cfg and returns a shutdown
// function that flushes buffered spans. With tracing disabled the returned
// shutdown is a no-op and the global provider is left untouched.
func Init(cfg config.TracingConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("tablemirror"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build tracing resource")
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		// Unknown exporter names fall back to stdout rather than failing
		// startup.
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the tracer instrumented code should use. Before Init, or
// with tracing disabled, this is the global no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
