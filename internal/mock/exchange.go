// Package mock provides in-memory test doubles for the engine's
// collaborators.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
)

// PlacedOrder is one order accepted by the mock exchange.
type PlacedOrder struct {
	Symbol    string
	Side      core.OrderSide
	Type      string // MARKET, STOP_LOSS, TAKE_PROFIT
	Quantity  decimal.Decimal
	StopPrice decimal.Decimal
}

// MockExchange implements core.Exchange with an in-memory position. Market
// orders fill instantly at the configured market price; protective orders are
// recorded but never trigger. Every method can be made to fail via FailNext
// or a per-method error.
type MockExchange struct {
	mu sync.RWMutex

	marketPrice decimal.Decimal
	filters     core.SymbolFilters
	position    *core.Position
	candles     []core.Candle

	orders     []PlacedOrder
	openOrders int
	leverage   int
	lastPnL    decimal.Decimal

	// Error injection. Errs fails the named method every call; failNext
	// fails the next n calls of any method.
	Errs     map[string]error
	failNext int
	failWith error

	PingCalls  int
	OrderCalls int
}

// NewMockExchange returns a flat exchange trading at the given price.
func NewMockExchange(price decimal.Decimal) *MockExchange {
	return &MockExchange{
		marketPrice: price,
		filters:     core.SymbolFilters{QuantityPrecision: 3, PricePrecision: 2},
		Errs:        make(map[string]error),
	}
}

// FailNext makes the next n calls to any method return err.
func (m *MockExchange) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

// SetMarketPrice updates the fill price for subsequent orders.
func (m *MockExchange) SetMarketPrice(price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketPrice = price
}

// SetPosition overrides the current position; nil means flat. Used to
// simulate externally closed positions.
func (m *MockExchange) SetPosition(pos *core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
}

// SetCandles sets the historical backfill response.
func (m *MockExchange) SetCandles(candles []core.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = candles
}

// SetLastPnL sets the realized PnL returned for the most recent close.
func (m *MockExchange) SetLastPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPnL = pnl
}

// Orders returns a copy of all accepted orders in placement order.
func (m *MockExchange) Orders() []PlacedOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PlacedOrder, len(m.orders))
	copy(out, m.orders)
	return out
}

// OrdersOfType filters accepted orders by type.
func (m *MockExchange) OrdersOfType(orderType string) []PlacedOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PlacedOrder
	for _, o := range m.orders {
		if o.Type == orderType {
			out = append(out, o)
		}
	}
	return out
}

// OpenOrderCount returns the number of resting protective orders.
func (m *MockExchange) OpenOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openOrders
}

// Leverage returns the last leverage set.
func (m *MockExchange) Leverage() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leverage
}

// fail honors context cancellation first, like the real client, then the
// injected errors.
func (m *MockExchange) fail(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failNext > 0 {
		m.failNext--
		return m.failWith
	}
	if err, ok := m.Errs[method]; ok {
		return err
	}
	return nil
}

func (m *MockExchange) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingCalls++
	return m.fail(ctx, "Ping")
}

func (m *MockExchange) GetSymbolFilters(ctx context.Context, symbol string) (core.SymbolFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "GetSymbolFilters"); err != nil {
		return core.SymbolFilters{}, err
	}
	return m.filters, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, _ string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "SetLeverage"); err != nil {
		return err
	}
	m.leverage = leverage
	return nil
}

func (m *MockExchange) GetHistoricalCandles(ctx context.Context, _, _ string, limit int) ([]core.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "GetHistoricalCandles"); err != nil {
		return nil, err
	}
	if len(m.candles) > limit {
		return append([]core.Candle(nil), m.candles[len(m.candles)-limit:]...), nil
	}
	return append([]core.Candle(nil), m.candles...), nil
}

func (m *MockExchange) GetOpenPosition(ctx context.Context, _ string) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "GetOpenPosition"); err != nil {
		return nil, err
	}
	if m.position == nil {
		return nil, nil
	}
	cp := *m.position
	return &cp, nil
}

func (m *MockExchange) GetMarketPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "GetMarketPrice"); err != nil {
		return decimal.Zero, err
	}
	return m.marketPrice, nil
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, quantity decimal.Decimal) (*core.OrderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrderCalls++
	if err := m.fail(ctx, "PlaceMarketOrder"); err != nil {
		return nil, err
	}

	m.orders = append(m.orders, PlacedOrder{
		Symbol: symbol, Side: side, Type: "MARKET", Quantity: quantity,
	})

	size := quantity
	if side == core.OrderSideSell {
		size = quantity.Neg()
	}
	if m.position == nil {
		m.position = &core.Position{Symbol: symbol, Size: size, EntryPrice: m.marketPrice}
	} else {
		m.position.Size = m.position.Size.Add(size)
		if m.position.Size.IsZero() {
			m.position = nil
		}
	}

	return &core.OrderRef{OrderID: int64(len(m.orders)), Symbol: symbol, Status: "FILLED"}, nil
}

func (m *MockExchange) PlaceProtectiveOrder(ctx context.Context, symbol string, side core.OrderSide, stopPrice decimal.Decimal, kind core.ProtectiveKind) (*core.OrderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrderCalls++
	if err := m.fail(ctx, "PlaceProtectiveOrder"); err != nil {
		return nil, err
	}

	m.orders = append(m.orders, PlacedOrder{
		Symbol: symbol, Side: side, Type: string(kind), StopPrice: stopPrice,
	})
	m.openOrders++
	return &core.OrderRef{OrderID: int64(len(m.orders)), Symbol: symbol, Status: "NEW"}, nil
}

func (m *MockExchange) CancelAllOpenOrders(ctx context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "CancelAllOpenOrders"); err != nil {
		return err
	}
	m.openOrders = 0
	return nil
}

func (m *MockExchange) ClosePositionAtMarket(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "ClosePositionAtMarket"); err != nil {
		return err
	}
	if m.position == nil {
		return fmt.Errorf("%s: %w", symbol, core.ErrNoPosition)
	}
	m.orders = append(m.orders, PlacedOrder{
		Symbol:   symbol,
		Side:     closeSideFor(m.position.Size),
		Type:     "MARKET",
		Quantity: m.position.Size.Abs(),
	})
	m.position = nil
	return nil
}

func (m *MockExchange) GetLastRealizedPnL(ctx context.Context, _ string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "GetLastRealizedPnL"); err != nil {
		return decimal.Zero, err
	}
	return m.lastPnL, nil
}

func closeSideFor(size decimal.Decimal) core.OrderSide {
	if size.IsNegative() {
		return core.OrderSideBuy
	}
	return core.OrderSideSell
}

var _ core.Exchange = (*MockExchange)(nil)
