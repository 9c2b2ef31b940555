package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/dmscreen/internal/config"
	"github.com/cory-johannsen/dmscreen/internal/observability"
)

func TestSetupTracing_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := observability.SetupTracing(context.Background(), config.TracingConfig{ServiceName: "dmscreen"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported, shutdown must still return.
	ctx, cancel := context.WithCancel(context.Background())
	shutdown, err := observability.SetupTracing(ctx, config.TracingConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "dmscreen-test",
	})
	require.NoError(t, err)
	cancel()
	require.NoError(t, shutdown(context.Background()))
}
