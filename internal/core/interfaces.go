// Package core defines the domain types and interfaces shared by the trading
// engine and its collaborators.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange is the capability surface the engine consumes from the remote
// derivatives exchange. Implementations wrap the wire client; the engine
// never talks to the transport directly.
type Exchange interface {
	// Ping verifies connectivity to the exchange.
	Ping(ctx context.Context) error

	// GetSymbolFilters resolves precision metadata for a symbol.
	// Returns ErrSymbolNotFound if the exchange does not list it.
	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)

	// SetLeverage configures leverage and margin mode for the symbol.
	// "Already set" responses from the remote are success, not failure.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetHistoricalCandles returns up to limit closed candles, oldest first.
	GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// GetOpenPosition returns the open position for the symbol, or nil if flat.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)

	// GetMarketPrice returns the latest traded price for the symbol.
	GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PlaceMarketOrder submits a market order for the given quantity.
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity decimal.Decimal) (*OrderRef, error)

	// PlaceProtectiveOrder submits a STOP_MARKET or TAKE_PROFIT_MARKET order
	// that closes the whole position when triggered.
	PlaceProtectiveOrder(ctx context.Context, symbol string, side OrderSide, stopPrice decimal.Decimal, kind ProtectiveKind) (*OrderRef, error)

	// CancelAllOpenOrders cancels every open order for the symbol.
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	// ClosePositionAtMarket closes the current position with a reduce-only
	// market order. Returns ErrNoPosition when already flat.
	ClosePositionAtMarket(ctx context.Context, symbol string) error

	// GetLastRealizedPnL sums the realized PnL of all fills sharing the most
	// recent order id for the symbol.
	GetLastRealizedPnL(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CandleStream delivers closed candles for one symbol/timeframe. The consumer
// owns the transport, reconnects on failure, and discards intra-candle ticks.
type CandleStream interface {
	// Start opens the subscription and begins delivering candles.
	Start(ctx context.Context) error
	// Candles returns the channel of closed candles. Closed after Stop or
	// when the parent context is cancelled.
	Candles() <-chan Candle
	// Stop requests a cooperative shutdown and blocks until the consumer
	// has fully exited.
	Stop()
}

// EntitlementGate answers whether an account may keep trading.
type EntitlementGate interface {
	IsActive(ctx context.Context, accountID string) (bool, error)
}

// TradeLedger records closed trades. Fire-and-forget from the engine's
// perspective: failures are logged by implementations, never fatal.
type TradeLedger interface {
	RecordTrade(ctx context.Context, accountID string, trade TradeRecord) error
}

// Logger is the structured logging interface used across the module.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
