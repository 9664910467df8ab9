// Package telemetry installs the process-wide OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ShutdownFunc flushes pending metrics and releases the exporter.
type ShutdownFunc func(context.Context) error

// Options configure metric export. An empty Endpoint disables export and
// leaves the global no-op provider in place.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is an OTLP/HTTP base URL such as http://localhost:4318.
	Endpoint string
	Interval time.Duration
}

// Setup builds an OTLP/HTTP meter provider and installs it globally. The
// returned provider is nil when export is disabled.
func Setup(ctx context.Context, opts Options) (metric.MeterProvider, ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return nil, noop, nil
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return nil, noop, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	)

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(opts.Interval))),
	)
	otel.SetMeterProvider(provider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}
	return provider, shutdown, nil
}
