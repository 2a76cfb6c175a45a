package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const ServiceName = "signal-workshop"

// InitTracer installs a global tracer provider. Spans are exported over OTLP
// gRPC when endpoint is set and dropped otherwise.
func InitTracer(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	var opts []sdktrace.TracerProviderOption
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, tp.Tracer(ServiceName), nil
}
