// Package resilience guards calls to external dependencies with a shared
// circuit breaker and bounded retry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"trend_trader/internal/core"
	"trend_trader/pkg/telemetry"
)

// Config describes one guarded dependency.
type Config struct {
	// Name identifies the dependency in logs, metrics, and errors.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint
	// OpenDelay is how long the breaker stays open before allowing a single
	// half-open probe.
	OpenDelay time.Duration
	// MaxAttempts bounds the retry wrapper, first attempt included.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ExchangeDefaults returns the guard configuration for the exchange API.
func ExchangeDefaults() Config {
	return Config{
		Name:             "exchange",
		FailureThreshold: 3,
		OpenDelay:        30 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   1 * time.Second,
		MaxBackoff:       8 * time.Second,
	}
}

// EntitlementDefaults returns the guard configuration for the entitlement
// store.
func EntitlementDefaults() Config {
	return Config{
		Name:             "entitlement",
		FailureThreshold: 5,
		OpenDelay:        60 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   1 * time.Second,
		MaxBackoff:       8 * time.Second,
	}
}

// Guard wraps calls to one external dependency. A single Guard is shared by
// every engine instance using that dependency, so a flapping remote protects
// all of them at once. Safe for concurrent use.
type Guard struct {
	name    string
	breaker circuitbreaker.CircuitBreaker[any]
	retry   retrypolicy.RetryPolicy[any]
	logger  core.Logger
}

// NewGuard builds a guard from the given config.
func NewGuard(cfg Config, logger core.Logger) *Guard {
	log := logger.WithField("dependency", cfg.Name)
	metrics := telemetry.GetGlobalMetrics()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			// Only dependency-level failures count toward opening the
			// breaker; caller mistakes (permanent errors) do not.
			return core.IsTransient(err)
		}).
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.OpenDelay).
		OnOpen(func(circuitbreaker.StateChangedEvent) {
			log.Warn("Circuit breaker opened")
			metrics.SetBreakerOpen(cfg.Name, true)
		}).
		OnHalfOpen(func(circuitbreaker.StateChangedEvent) {
			log.Info("Circuit breaker half-open, allowing trial call")
		}).
		OnClose(func(circuitbreaker.StateChangedEvent) {
			log.Info("Circuit breaker closed")
			metrics.SetBreakerOpen(cfg.Name, false)
		}).
		Build()

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			// A rejected call means the dependency is already known to be
			// down; retrying locally would only add load.
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return false
			}
			return core.IsTransient(err)
		}).
		WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff).
		WithMaxAttempts(cfg.MaxAttempts).
		Build()

	return &Guard{
		name:    cfg.Name,
		breaker: breaker,
		retry:   retry,
		logger:  log,
	}
}

// Run executes op through the retry and breaker pipeline.
func (g *Guard) Run(ctx context.Context, op func(ctx context.Context) error) error {
	err := failsafe.With[any](g.retry, g.breaker).
		WithContext(ctx).
		Run(func() error { return op(ctx) })
	return g.translate(err)
}

// Do executes op through the guard and returns its value. A package function
// because Go methods cannot be generic.
func Do[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	result, err := failsafe.With[any](g.retry, g.breaker).
		WithContext(ctx).
		Get(func() (any, error) { return op(ctx) })
	if err != nil {
		var zero T
		return zero, g.translate(err)
	}
	v, _ := result.(T)
	return v, nil
}

// IsOpen reports whether the breaker currently rejects calls.
func (g *Guard) IsOpen() bool {
	return g.breaker.State() == circuitbreaker.OpenState
}

func (g *Guard) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s: %w", g.name, core.ErrServiceUnavailable)
	}
	return err
}
