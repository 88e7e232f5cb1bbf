package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an open position.
type Side string

const (
	SideNone  Side = "NONE"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Signal is the output of the crossover detector.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalHold  Signal = "HOLD"
)

// Side returns the position side a signal points at.
func (s Signal) Side() Side {
	switch s {
	case SignalLong:
		return SideLong
	case SignalShort:
		return SideShort
	default:
		return SideNone
	}
}

// OrderSide is the exchange-level order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ProtectiveKind selects between the two protective order types.
type ProtectiveKind string

const (
	ProtectiveStopLoss   ProtectiveKind = "STOP_LOSS"
	ProtectiveTakeProfit ProtectiveKind = "TAKE_PROFIT"
)

// Candle is one closed OHLCV aggregate. Immutable once closed; only closed
// candles enter the engine's window.
type Candle struct {
	OpenTime         time.Time
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Volume           decimal.Decimal
	CloseTime        time.Time
	QuoteVolume      decimal.Decimal
	TradeCount       int64
	TakerBuyVolume   decimal.Decimal
	TakerBuyQuoteVol decimal.Decimal
	Closed           bool
}

// SymbolFilters carries the precision metadata resolved once at startup from
// the exchange symbol filters.
type SymbolFilters struct {
	QuantityPrecision int
	PricePrecision    int
}

// Position is the exchange-side view of current exposure. The exchange is the
// source of truth; the engine re-queries before any decision that depends on
// it.
type Position struct {
	Symbol        string
	Size          decimal.Decimal // signed: negative = short
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Side derives the position side from the signed size.
func (p *Position) Side() Side {
	switch {
	case p == nil || p.Size.IsZero():
		return SideNone
	case p.Size.IsNegative():
		return SideShort
	default:
		return SideLong
	}
}

// OrderRef identifies an order accepted by the exchange.
type OrderRef struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        string
}

// EngineStatus is the externally readable state of one engine instance.
// Mutated only by the engine's own goroutine; readers get snapshot copies.
type EngineStatus struct {
	IsRunning    bool
	PositionSide Side
	Message      string
	LastCheck    time.Time
}

// TradeRecord is one closed trade reported to the trade ledger.
type TradeRecord struct {
	Symbol    string
	PnL       decimal.Decimal
	Status    string
	Timestamp time.Time
}

// Trade close reasons recorded in the ledger.
const (
	TradeClosedByFlip     = "CLOSED_BY_FLIP"
	TradeClosedExternally = "CLOSED_EXTERNALLY"
	TradeClosedOnStop     = "CLOSED_ON_STOP"
)

// ValidIntervals are the candle timeframes the engine accepts.
var ValidIntervals = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// Settings is the immutable per-instance configuration of one engine.
type Settings struct {
	AccountID         string
	Symbol            string
	Interval          string
	Leverage          int
	OrderSizeQuote    decimal.Decimal
	StopLossPercent   decimal.Decimal
	TakeProfitPercent decimal.Decimal
	EntitlementCheck  time.Duration
}

// Equal reports whether two settings describe the same engine configuration.
func (s Settings) Equal(o Settings) bool {
	return s.AccountID == o.AccountID &&
		s.Symbol == o.Symbol &&
		s.Interval == o.Interval &&
		s.Leverage == o.Leverage &&
		s.OrderSizeQuote.Equal(o.OrderSizeQuote) &&
		s.StopLossPercent.Equal(o.StopLossPercent) &&
		s.TakeProfitPercent.Equal(o.TakeProfitPercent) &&
		s.EntitlementCheck == o.EntitlementCheck
}

// Validate enforces the settings invariants.
func (s Settings) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("settings: account id is required")
	}
	if n := len(s.Symbol); n < 6 || n > 12 {
		return fmt.Errorf("settings: symbol %q must be 6-12 characters", s.Symbol)
	}
	valid := false
	for _, iv := range ValidIntervals {
		if iv == s.Interval {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("settings: invalid interval %q", s.Interval)
	}
	if s.Leverage < 1 || s.Leverage > 125 {
		return fmt.Errorf("settings: leverage %d out of range [1,125]", s.Leverage)
	}
	if !s.OrderSizeQuote.IsPositive() {
		return fmt.Errorf("settings: order size must be positive")
	}
	if !s.StopLossPercent.IsPositive() {
		return fmt.Errorf("settings: stop loss percent must be positive")
	}
	if !s.TakeProfitPercent.IsPositive() {
		return fmt.Errorf("settings: take profit percent must be positive")
	}
	if s.EntitlementCheck <= 0 {
		return fmt.Errorf("settings: entitlement check interval must be positive")
	}
	return nil
}
