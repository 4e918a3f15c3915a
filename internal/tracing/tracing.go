// Package tracing - OpenTelemetry tracer provider of the binary.
package tracing

import (
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTracing installs a global tracer provider for serviceName.
//
// Spans are always recorded, so log entries reach them through the logger
// hook. Finished spans are written as JSON to export when it is not nil.
//
// Arguments:
//   - serviceName: The service.name resource attribute.
//   - export: Destination of finished spans. nil disables exporting.
//
// Returns:
//   - *sdktrace.TracerProvider: The provider. Shutdown flushes pending spans.
//   - error: An error if the exporter cannot be created.
func SetupTracing(serviceName string, export io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	}

	if export != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(export))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create span exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}
