package observability

import (
	"context"
	"errors"
	"testing"

	"orderflow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSkipsWithoutEndpoint(t *testing.T) {
	cfg := &config.Config{ServiceName: config.OrderServiceName}
	ctx := context.Background()

	logShutdown, err := SetupLoggingSDK(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, logShutdown(ctx))

	tp, traceShutdown, err := SetupTracingSDK(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, traceShutdown(ctx))

	metricShutdown, err := SetupMetricsSDK(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, metricShutdown(ctx))
}

func TestJoinShutdown(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	calls := 0

	shutdown := JoinShutdown(
		func(context.Context) error { calls++; return errA },
		nil,
		func(context.Context) error { calls++; return nil },
		func(context.Context) error { calls++; return errB },
	)

	err := shutdown(context.Background())
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}
