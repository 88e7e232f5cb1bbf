package entitlement

import (
	"context"

	"trend_trader/internal/core"
	"trend_trader/internal/resilience"
)

// Guarded routes entitlement queries through a resilience guard so a broken
// entitlement backend cannot stall the trading loop.
type Guarded struct {
	inner core.EntitlementGate
	guard *resilience.Guard
}

// NewGuarded wraps inner with the given guard.
func NewGuarded(inner core.EntitlementGate, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

// IsActive answers through the guard. When the breaker is open the error
// wraps core.ErrServiceUnavailable; the caller decides whether a stale answer
// is acceptable.
func (g *Guarded) IsActive(ctx context.Context, accountID string) (bool, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (bool, error) {
		return g.inner.IsActive(ctx, accountID)
	})
}
