package obsmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"ingestctl/internal/config"
)

// InitOTel builds a real OTLP metrics exporter and registers it as the
// global MeterProvider, so New()'s otel.Meter("ingestctl") resolves to an
// actual pipeline instead of the SDK's default no-op one. Returns a shutdown
// func the caller must invoke on exit to flush the last batch. If
// obs.OTLPEndpoint is empty, metrics are left on the no-op provider and the
// returned shutdown func is a no-op.
func InitOTel(ctx context.Context, obs config.ObservabilityConfig) (func(context.Context) error, error) {
	if obs.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(obs.ServiceVersion),
			attribute.String("deployment.environment", obs.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obsmetrics: init resource: %w", err)
	}

	exp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(obs.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("obsmetrics: init metrics exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(exp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
