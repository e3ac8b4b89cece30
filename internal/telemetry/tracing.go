// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config controls tracing.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// SampleRatio is the share of root traces kept, 0 to 1.
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// ProjectID is the Google Cloud project spans are exported to. Empty
	// keeps spans in process.
	ProjectID string `mapstructure:"project_id"`
}

// NewExporter returns a Cloud Trace exporter for cfg.ProjectID, or nil when
// no project is configured.
func NewExporter(cfg Config, opts ...texporter.Option) (sdktrace.SpanExporter, error) {
	if cfg.ProjectID == "" {
		return nil, nil
	}
	opts = append([]texporter.Option{texporter.WithProjectID(cfg.ProjectID)}, opts...)
	exp, err := texporter.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create google trace exporter: %w", err)
	}
	return exp, nil
}

// InitTracerProvider installs a global tracer provider for serviceName and
// the W3C trace-context and baggage propagators. Extra options, such as an
// exporter or span processor, are passed to the provider. The returned
// provider must be shut down on exit.
func InitTracerProvider(ctx context.Context, serviceName string, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
