package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetMeterProvider()

	provider, shutdown, err := Setup(context.Background(), Options{ServiceName: "recall"})
	require.NoError(t, err)
	assert.Nil(t, provider)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetMeterProvider())
}

func TestSetupInstallsProvider(t *testing.T) {
	before := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(before) })

	provider, shutdown, err := Setup(context.Background(), Options{
		ServiceName:    "recall",
		ServiceVersion: "test",
		Endpoint:       "http://127.0.0.1:1",
		Interval:       time.Hour,
	})
	require.NoError(t, err)
	require.IsType(t, &sdkmetric.MeterProvider{}, provider)
	assert.Same(t, provider, otel.GetMeterProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// Nothing listens on the endpoint; only the provider teardown matters.
	_ = shutdown(ctx)
}
