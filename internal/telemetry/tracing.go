package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider builds the tracer provider used for invocation spans. Spans are
// exported over OTLP/HTTP when endpoint is set; otherwise ids are still generated and
// propagated but nothing is exported.
func NewTracerProvider(ctx context.Context, endpoint string, lg zerolog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		lg.Info().Str("endpoint", endpoint).Msg("exporting traces over otlp")
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Propagator is the W3C trace-context propagator used on both sides of the proxy.
func Propagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}
