// Package exchange decorates an exchange gateway with the resilience layer.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
	"trend_trader/internal/resilience"
)

// Guarded routes every exchange call through a shared resilience guard, so
// retries and the circuit breaker apply uniformly no matter which engine
// instance makes the call.
type Guarded struct {
	inner core.Exchange
	guard *resilience.Guard
}

// NewGuarded wraps inner with the given guard.
func NewGuarded(inner core.Exchange, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

// Unavailable reports whether the guard currently rejects calls.
func (g *Guarded) Unavailable() bool {
	return g.guard.IsOpen()
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.guard.Run(ctx, g.inner.Ping)
}

func (g *Guarded) GetSymbolFilters(ctx context.Context, symbol string) (core.SymbolFilters, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (core.SymbolFilters, error) {
		return g.inner.GetSymbolFilters(ctx, symbol)
	})
}

func (g *Guarded) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.guard.Run(ctx, func(ctx context.Context) error {
		return g.inner.SetLeverage(ctx, symbol, leverage)
	})
}

func (g *Guarded) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) ([]core.Candle, error) {
		return g.inner.GetHistoricalCandles(ctx, symbol, interval, limit)
	})
}

func (g *Guarded) GetOpenPosition(ctx context.Context, symbol string) (*core.Position, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (*core.Position, error) {
		return g.inner.GetOpenPosition(ctx, symbol)
	})
}

func (g *Guarded) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.GetMarketPrice(ctx, symbol)
	})
}

func (g *Guarded) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, quantity decimal.Decimal) (*core.OrderRef, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (*core.OrderRef, error) {
		return g.inner.PlaceMarketOrder(ctx, symbol, side, quantity)
	})
}

func (g *Guarded) PlaceProtectiveOrder(ctx context.Context, symbol string, side core.OrderSide, stopPrice decimal.Decimal, kind core.ProtectiveKind) (*core.OrderRef, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (*core.OrderRef, error) {
		return g.inner.PlaceProtectiveOrder(ctx, symbol, side, stopPrice, kind)
	})
}

func (g *Guarded) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return g.guard.Run(ctx, func(ctx context.Context) error {
		return g.inner.CancelAllOpenOrders(ctx, symbol)
	})
}

func (g *Guarded) ClosePositionAtMarket(ctx context.Context, symbol string) error {
	return g.guard.Run(ctx, func(ctx context.Context) error {
		return g.inner.ClosePositionAtMarket(ctx, symbol)
	})
}

func (g *Guarded) GetLastRealizedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return resilience.Do(ctx, g.guard, func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.GetLastRealizedPnL(ctx, symbol)
	})
}
