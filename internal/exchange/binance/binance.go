// Package binance implements the exchange gateway for Binance USD-M futures
// on top of the go-binance client.
package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trend_trader/internal/core"
	"trend_trader/pkg/tradingutils"
)

const (
	// tradeLookback bounds the fill history scanned for the last realized PnL.
	tradeLookback = 50
	// requestsPerSecond paces REST calls below the futures API weight limits.
	requestsPerSecond = 10
	requestBurst      = 20
)

// Config holds the gateway credentials and options.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string // optional override, e.g. the testnet endpoint
}

// Gateway implements core.Exchange for Binance USD-M futures.
type Gateway struct {
	client  *futures.Client
	limiter *rate.Limiter
	logger  core.Logger
}

// NewGateway creates a gateway and synchronizes the client clock with the
// exchange server time.
func NewGateway(cfg Config, logger core.Logger) (*Gateway, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("binance gateway: api key and secret are required")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	g := &Gateway{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:  logger.WithField("component", "binance_gateway"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.NewSetServerTimeService().Do(ctx); err != nil {
		g.logger.Warn("Server time sync failed, continuing with local clock", "error", err)
	}

	return g, nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// Ping verifies REST connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	return classifyError(g.client.NewPingService().Do(ctx))
}

// GetSymbolFilters resolves quantity and price precision from the exchange
// info endpoint.
func (g *Gateway) GetSymbolFilters(ctx context.Context, symbol string) (core.SymbolFilters, error) {
	if err := g.wait(ctx); err != nil {
		return core.SymbolFilters{}, err
	}

	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return core.SymbolFilters{}, classifyError(err)
	}

	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return core.SymbolFilters{
				QuantityPrecision: s.QuantityPrecision,
				PricePrecision:    s.PricePrecision,
			}, nil
		}
	}
	return core.SymbolFilters{}, fmt.Errorf("%s: %w", symbol, core.ErrSymbolNotFound)
}

// SetLeverage sets the leverage and crossed margin mode for the symbol.
// "No need to change" responses are success. When the margin type cannot be
// changed because a position is open, the existing leverage already applies,
// so the call logs a warning and succeeds without changing anything.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	err := g.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginTypeCrossed).
		Do(ctx)
	switch {
	case err == nil:
	case isAPICode(err, codeNoNeedChangeMargin):
		// Already crossed.
	case isAPICode(err, codeMarginWithPosition):
		g.logger.Warn("Margin type unchanged, position already open", "symbol", symbol)
		return nil
	default:
		return classifyError(err)
	}

	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err = g.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		if isAPICode(err, codeMarginWithPosition) {
			g.logger.Warn("Leverage unchanged, position already open", "symbol", symbol)
			return nil
		}
		return classifyError(err)
	}
	return nil
}

// GetHistoricalCandles returns up to limit closed candles, oldest first.
func (g *Gateway) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	klines, err := g.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, toCandle(k))
	}
	return candles, nil
}

// GetOpenPosition returns the open position for the symbol, or nil when flat.
func (g *Gateway) GetOpenPosition(ctx context.Context, symbol string) (*core.Position, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	for _, p := range risks {
		size := mustDecimal(p.PositionAmt)
		if size.IsZero() {
			continue
		}
		return &core.Position{
			Symbol:        p.Symbol,
			Size:          size,
			EntryPrice:    mustDecimal(p.EntryPrice),
			UnrealizedPnL: mustDecimal(p.UnRealizedProfit),
		}, nil
	}
	return nil, nil
}

// GetMarketPrice returns the latest traded price for the symbol.
func (g *Gateway) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyError(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, core.ErrSymbolNotFound)
	}
	return mustDecimal(prices[0].Price), nil
}

// PlaceMarketOrder submits a market order for the given base quantity.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, quantity decimal.Decimal) (*core.OrderRef, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	g.logger.Info("Market order placed",
		"symbol", symbol, "side", string(side),
		"quantity", quantity.String(), "order_id", resp.OrderID)

	return &core.OrderRef{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Status:        string(resp.Status),
	}, nil
}

// PlaceProtectiveOrder submits a STOP_MARKET or TAKE_PROFIT_MARKET order with
// closePosition=true, so a trigger closes the entire position.
func (g *Gateway) PlaceProtectiveOrder(ctx context.Context, symbol string, side core.OrderSide, stopPrice decimal.Decimal, kind core.ProtectiveKind) (*core.OrderRef, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	orderType := futures.OrderTypeStopMarket
	if kind == core.ProtectiveTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		StopPrice(stopPrice.String()).
		ClosePosition(true).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	g.logger.Info("Protective order placed",
		"symbol", symbol, "kind", string(kind),
		"stop_price", stopPrice.String(), "order_id", resp.OrderID)

	return &core.OrderRef{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Status:        string(resp.Status),
	}, nil
}

// CancelAllOpenOrders cancels every open order for the symbol.
func (g *Gateway) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	if err := g.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return classifyError(err)
	}
	g.logger.Info("All open orders cancelled", "symbol", symbol)
	return nil
}

// ClosePositionAtMarket closes the current position with a reduce-only market
// order in the opposite direction.
func (g *Gateway) ClosePositionAtMarket(ctx context.Context, symbol string) error {
	pos, err := g.GetOpenPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("%s: %w", symbol, core.ErrNoPosition)
	}

	if err := g.wait(ctx); err != nil {
		return err
	}

	_, err = g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(tradingutils.CloseSide(pos.Side()))).
		Type(futures.OrderTypeMarket).
		Quantity(pos.Size.Abs().String()).
		ReduceOnly(true).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return classifyError(err)
	}

	g.logger.Info("Position closed at market",
		"symbol", symbol, "size", pos.Size.String())
	return nil
}

// GetLastRealizedPnL sums the realized PnL of every fill sharing the most
// recent order id for the symbol. Zero when there are no fills.
func (g *Gateway) GetLastRealizedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	trades, err := g.client.NewListAccountTradeService().
		Symbol(symbol).
		Limit(tradeLookback).
		Do(ctx)
	if err != nil {
		return decimal.Zero, classifyError(err)
	}
	if len(trades) == 0 {
		return decimal.Zero, nil
	}

	// Trades arrive oldest first; the last entry belongs to the latest order.
	lastOrderID := trades[len(trades)-1].OrderID
	total := decimal.Zero
	for _, t := range trades {
		if t.OrderID == lastOrderID {
			total = total.Add(mustDecimal(t.RealizedPnl))
		}
	}
	return total, nil
}

// newClientOrderID generates a client order id within the exchange's 36
// character limit.
func newClientOrderID() string {
	return "tt-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
