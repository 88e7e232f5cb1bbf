// Package tradingutils holds small price/quantity helpers shared by the
// engine and the exchange gateway.
package tradingutils

import (
	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
)

var hundred = decimal.NewFromInt(100)

// RoundPrice rounds a price to the symbol's price precision.
func RoundPrice(price decimal.Decimal, pricePrecision int) decimal.Decimal {
	return price.Round(int32(pricePrecision))
}

// FloorQuantity truncates a quantity down to the symbol's quantity precision.
// Flooring (not rounding) keeps the order value at or below the requested
// quote size.
func FloorQuantity(qty decimal.Decimal, quantityPrecision int) decimal.Decimal {
	return qty.RoundFloor(int32(quantityPrecision))
}

// QuantityFromQuote converts a quote-denominated order size into a base
// quantity at the given price, floored to the quantity precision. A zero or
// negative price yields zero.
func QuantityFromQuote(quoteSize, price decimal.Decimal, quantityPrecision int) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return FloorQuantity(quoteSize.Div(price), quantityPrecision)
}

// ProtectivePrices computes the stop-loss and take-profit trigger prices for
// an entry at the given price, direction-dependent and rounded to the price
// precision. Long positions stop below and take profit above; shorts mirror.
func ProtectivePrices(side core.Side, entry, stopLossPct, takeProfitPct decimal.Decimal, pricePrecision int) (stopLoss, takeProfit decimal.Decimal) {
	slFrac := stopLossPct.Div(hundred)
	tpFrac := takeProfitPct.Div(hundred)

	one := decimal.NewFromInt(1)
	switch side {
	case core.SideLong:
		stopLoss = entry.Mul(one.Sub(slFrac))
		takeProfit = entry.Mul(one.Add(tpFrac))
	case core.SideShort:
		stopLoss = entry.Mul(one.Add(slFrac))
		takeProfit = entry.Mul(one.Sub(tpFrac))
	default:
		return decimal.Zero, decimal.Zero
	}
	return RoundPrice(stopLoss, pricePrecision), RoundPrice(takeProfit, pricePrecision)
}

// CloseSide returns the order side that closes a position on the given side,
// and the entry side that opens it.
func CloseSide(side core.Side) core.OrderSide {
	if side == core.SideLong {
		return core.OrderSideSell
	}
	return core.OrderSideBuy
}

// EntrySide returns the order side that opens a position on the given side.
func EntrySide(side core.Side) core.OrderSide {
	if side == core.SideShort {
		return core.OrderSideSell
	}
	return core.OrderSideBuy
}
