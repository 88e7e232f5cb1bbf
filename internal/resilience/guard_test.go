package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_trader/internal/core"
	"trend_trader/pkg/logging"
)

func testConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		OpenDelay:        100 * time.Millisecond,
		MaxAttempts:      1,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
	}
}

func transientErr() error {
	return &core.ExchangeError{Code: -1003, Message: "rate limited", Transient: true}
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())
	ctx := context.Background()

	var calls int32
	failing := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return transientErr()
	}

	for i := 0; i < 3; i++ {
		assert.Error(t, g.Run(ctx, failing))
	}
	require.True(t, g.IsOpen())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Open breaker fails fast without invoking the operation.
	err := g.Run(ctx, failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrServiceUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuard_HalfOpenProbeCloses(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	}
	require.True(t, g.IsOpen())

	time.Sleep(150 * time.Millisecond)

	// The trial call succeeds and fully resets the breaker.
	err := g.Run(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, g.IsOpen())

	// Failure count is back to zero: two failures do not reopen.
	_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	assert.False(t, g.IsOpen())
}

func TestGuard_HalfOpenFailureReopens(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	}
	require.True(t, g.IsOpen())

	time.Sleep(150 * time.Millisecond)

	_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	assert.True(t, g.IsOpen())
}

func TestGuard_PermanentErrorsDoNotTrip(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())
	ctx := context.Background()

	permanent := errors.New("bad request")
	for i := 0; i < 10; i++ {
		err := g.Run(ctx, func(context.Context) error { return permanent })
		assert.ErrorIs(t, err, permanent)
	}
	assert.False(t, g.IsOpen())
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.FailureThreshold = 10
	g := NewGuard(cfg, logging.NewNop())

	var calls int32
	err := g.Run(context.Background(), func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return transientErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuard_NoRetryOnPermanentError(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	g := NewGuard(cfg, logging.NewNop())

	var calls int32
	err := g.Run(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("invalid parameter")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDo_ReturnsValue(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())

	v, err := Do(context.Background(), g, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_PropagatesOpenBreaker(t *testing.T) {
	g := NewGuard(testConfig(), logging.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = g.Run(ctx, func(context.Context) error { return transientErr() })
	}
	require.True(t, g.IsOpen())

	_, err := Do(ctx, g, func(context.Context) (string, error) {
		return "should not run", nil
	})
	assert.ErrorIs(t, err, core.ErrServiceUnavailable)
}
