// Package engine runs the per-account trading state machine: it consumes
// closed candles, detects crossover signals, and flips the position on the
// exchange accordingly.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trend_trader/internal/alert"
	"trend_trader/internal/core"
	"trend_trader/internal/signal"
	"trend_trader/internal/stream"
	"trend_trader/pkg/telemetry"
	"trend_trader/pkg/tradingutils"
)

// state is the engine lifecycle phase.
type state string

const (
	stateIdle      state = "IDLE"
	stateStarting  state = "STARTING"
	stateListening state = "LISTENING"
	stateFlipping  state = "FLIPPING"
	stateStopping  state = "STOPPING"
)

const (
	// backfillLimit seeds the candle window at startup. Must cover the long
	// EMA period plus one; 50 leaves headroom.
	backfillLimit = 50
	// settleDelay gives the exchange time to finalize fills after a market
	// close before the realized PnL is queried.
	settleDelay = 1 * time.Second
	// protectiveRetries is how many extra attempts each protective order
	// gets before its absence is surfaced in status.
	protectiveRetries = 1
	// flipTimeout bounds one full flip. Mutating exchange calls run under a
	// context detached from the run loop, so a Stop racing a flip waits for
	// the orders instead of aborting them mid-request.
	flipTimeout = 30 * time.Second
)

// StreamFactory builds the candle stream for a symbol and interval. Injected
// so tests can substitute a scripted stream.
type StreamFactory func(symbol, interval string, logger core.Logger) core.CandleStream

// DefaultStreamFactory connects to the production kline feed.
func DefaultStreamFactory(symbol, interval string, logger core.Logger) core.CandleStream {
	return stream.NewConsumer(symbol, interval, logger)
}

// Engine is one account's trading instance. All trading decisions run on a
// single goroutine fed by the candle stream; Start, Stop, and GetStatus are
// safe to call concurrently from outside.
type Engine struct {
	settings core.Settings
	exchange core.Exchange
	gate     core.EntitlementGate
	ledger   core.TradeLedger
	detector *signal.Detector
	streams  StreamFactory
	alerts   *alert.Manager
	logger   core.Logger

	mu        sync.RWMutex
	st        state
	side      core.Side
	message   string
	lastCheck time.Time

	// Owned by the run goroutine once started.
	window  *core.CandleWindow
	filters core.SymbolFilters
	stream  core.CandleStream

	cancel       context.CancelFunc
	done         chan struct{}
	pendingStop  bool
	lastEntitled time.Time
}

// New builds an engine. Settings must already be validated.
func New(settings core.Settings, exchange core.Exchange, gate core.EntitlementGate, ledger core.TradeLedger, logger core.Logger) *Engine {
	detector := signal.NewDetector()
	return &Engine{
		settings: settings,
		exchange: exchange,
		gate:     gate,
		ledger:   ledger,
		detector: detector,
		streams:  DefaultStreamFactory,
		logger: logger.WithFields(map[string]interface{}{
			"account_id": settings.AccountID,
			"symbol":     settings.Symbol,
		}),
		st:     stateIdle,
		side:   core.SideNone,
		window: core.NewCandleWindow(backfillLimit),
	}
}

// SetStreamFactory overrides the candle stream source. Must be called before
// Start.
func (e *Engine) SetStreamFactory(f StreamFactory) {
	e.streams = f
}

// SetAlertManager attaches a notification sink. Optional; a nil manager
// disables alerting.
func (e *Engine) SetAlertManager(m *alert.Manager) {
	e.alerts = m
}

func (e *Engine) notify(ctx context.Context, title, message string, level alert.Level) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(ctx, title, message, level, map[string]string{
		"account_id": e.settings.AccountID,
		"symbol":     e.settings.Symbol,
	})
}

// Start runs the startup sequence and, on success, launches the trading loop.
// It blocks until startup completes or fails. Calling Start on a running
// engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.st != stateIdle {
		e.mu.Unlock()
		return nil
	}
	e.st = stateStarting
	e.message = "starting"
	e.mu.Unlock()

	if err := e.startup(ctx); err != nil {
		e.mu.Lock()
		e.st = stateIdle
		e.message = err.Error()
		e.pendingStop = false
		e.mu.Unlock()
		e.logger.Error("Startup failed", "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	pending := e.pendingStop
	e.pendingStop = false
	e.cancel = cancel
	e.done = make(chan struct{})
	e.st = stateListening
	e.message = "listening for candles"
	e.lastEntitled = time.Now()
	e.mu.Unlock()

	telemetry.GetGlobalMetrics().EnginesRunning.Inc()
	go e.run(runCtx)

	// A Stop that arrived while startup was still running is honored now,
	// after the startup side effects (adopted position, open stream) exist
	// and can be torn down.
	if pending {
		e.logger.Info("Stop requested during startup, shutting down")
		e.Stop()
		return nil
	}

	e.logger.Info("Engine started", "interval", e.settings.Interval)
	return nil
}

// startup performs the fatal-on-failure startup steps in order.
func (e *Engine) startup(ctx context.Context) error {
	active, err := e.gate.IsActive(ctx, e.settings.AccountID)
	if err != nil {
		return fmt.Errorf("entitlement check failed: %w", err)
	}
	if !active {
		return fmt.Errorf("entitlement inactive: %w", core.ErrEntitlementLapsed)
	}

	if err := e.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange unreachable: %w", err)
	}

	filters, err := e.exchange.GetSymbolFilters(ctx, e.settings.Symbol)
	if err != nil {
		return fmt.Errorf("symbol filters unavailable: %w", err)
	}
	e.filters = filters

	if err := e.exchange.SetLeverage(ctx, e.settings.Symbol, e.settings.Leverage); err != nil {
		return fmt.Errorf("leverage setup failed: %w", err)
	}

	candles, err := e.exchange.GetHistoricalCandles(ctx, e.settings.Symbol, e.settings.Interval, backfillLimit)
	if err != nil {
		return fmt.Errorf("historical backfill failed: %w", err)
	}
	if len(candles) < e.detector.LongPeriod()+1 {
		e.logger.Warn("Backfill shorter than signal window, holding until filled",
			"candles", len(candles))
	}
	e.window.Fill(candles)

	// Adopt whatever position already exists so a restart does not re-enter.
	pos, err := e.exchange.GetOpenPosition(ctx, e.settings.Symbol)
	if err != nil {
		return fmt.Errorf("position query failed: %w", err)
	}
	e.setSide(pos.Side())

	s := e.streams(e.settings.Symbol, e.settings.Interval, e.logger)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("candle stream failed to start: %w", err)
	}
	e.stream = s
	return nil
}

// run is the single trading loop. It owns the candle window and all position
// transitions, and performs the teardown exactly once on exit.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.teardown()

	for {
		select {
		case <-ctx.Done():
			e.setStatus(stateStopping, "stop requested")
			return
		case candle, ok := <-e.stream.Candles():
			if !ok {
				e.setStatus(stateStopping, "candle stream closed")
				return
			}
			if !e.onCandle(ctx, candle) {
				return
			}
		}
	}
}

// onCandle processes one closed candle; false means the engine must stop.
func (e *Engine) onCandle(ctx context.Context, candle core.Candle) bool {
	e.window.Append(candle)
	telemetry.GetGlobalMetrics().CandlesTotal.WithLabelValues(e.settings.Symbol).Inc()

	e.mu.Lock()
	e.lastCheck = time.Now()
	e.mu.Unlock()

	e.reconcilePosition(ctx)

	sig := e.detector.Detect(e.window.Snapshot())
	if sig != core.SignalHold {
		telemetry.GetGlobalMetrics().SignalsTotal.
			WithLabelValues(e.settings.Symbol, string(sig)).Inc()
	}

	if target := sig.Side(); target != core.SideNone && target != e.currentSide() {
		e.setStatus(stateFlipping, fmt.Sprintf("flipping to %s", target))
		if err := e.flip(ctx, target); err != nil {
			e.setStatus(stateStopping, "entitlement lapsed")
			return false
		}
		e.mu.Lock()
		if e.st == stateFlipping {
			e.st = stateListening
		}
		e.mu.Unlock()
	}

	if time.Since(e.lastEntitled) >= e.settings.EntitlementCheck {
		e.lastEntitled = time.Now()
		active, err := e.gate.IsActive(ctx, e.settings.AccountID)
		switch {
		case err != nil:
			// A degraded entitlement backend is not a lapse; keep trading
			// on the last known answer and retry next interval.
			e.logger.Warn("Entitlement re-check failed", "error", err)
		case !active:
			e.logger.Info("Entitlement lapsed, stopping")
			e.notify(ctx, "Entitlement lapsed", "engine stopping, position will be closed", alert.Warning)
			e.setStatus(stateStopping, "entitlement lapsed")
			return false
		}
	}
	return true
}

// reconcilePosition clears local position memory when the exchange no longer
// shows the position the engine recorded (protective trigger or manual
// close), recording the realized PnL.
func (e *Engine) reconcilePosition(ctx context.Context) {
	if e.currentSide() == core.SideNone {
		return
	}

	pos, err := e.exchange.GetOpenPosition(ctx, e.settings.Symbol)
	if err != nil {
		e.logger.Warn("Position check failed", "error", err)
		return
	}
	if pos != nil {
		return
	}

	e.logger.Info("Position closed externally")
	pnl := e.realizedPnL(ctx)
	e.recordTrade(pnl, core.TradeClosedExternally)
	e.setSide(core.SideNone)
	e.setStatus(stateListening, "position closed externally")

	// The surviving protective order no longer protects anything.
	if err := e.exchange.CancelAllOpenOrders(ctx, e.settings.Symbol); err != nil {
		e.logger.Warn("Leftover order cleanup failed", "error", err)
	}
}

// errLapsed aborts a flip into the stopping path.
var errLapsed = fmt.Errorf("entitlement lapsed")

// flip closes any existing position and opens one on the target side. A
// returned error means the entitlement lapsed and the engine must stop; all
// other failures are absorbed into status.
func (e *Engine) flip(ctx context.Context, target core.Side) error {
	// A flip, once begun, runs to completion: orders already in flight on
	// the exchange must not be abandoned when Stop cancels the run context.
	// The context is detached and rebounded by flipTimeout instead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flipTimeout)
	defer cancel()

	active, err := e.gate.IsActive(ctx, e.settings.AccountID)
	if err != nil {
		e.logger.Warn("Entitlement check failed, skipping flip", "error", err)
		e.setStatus(stateListening, "flip skipped: entitlement check failed")
		return nil
	}
	if !active {
		return errLapsed
	}

	if err := e.closeExisting(ctx); err != nil {
		e.logger.Error("Failed to close existing position", "error", err)
		e.setStatus(stateListening, "flip aborted: could not close existing position")
		return nil
	}

	price, err := e.exchange.GetMarketPrice(ctx, e.settings.Symbol)
	if err != nil {
		e.setStatus(stateListening, "flip aborted: market price unavailable")
		return nil
	}

	qty := tradingutils.QuantityFromQuote(e.settings.OrderSizeQuote, price, e.filters.QuantityPrecision)
	if !qty.IsPositive() {
		e.logger.Warn("Order quantity too small", "price", price.String())
		e.setStatus(stateListening, "flip aborted: quantity too small")
		return nil
	}

	entrySide := tradingutils.EntrySide(target)
	if _, err := e.exchange.PlaceMarketOrder(ctx, e.settings.Symbol, entrySide, qty); err != nil {
		e.logger.Error("Entry order failed", "error", err)
		if cerr := e.exchange.CancelAllOpenOrders(ctx, e.settings.Symbol); cerr != nil {
			e.logger.Warn("Cleanup after failed entry failed", "error", cerr)
		}
		e.setSide(core.SideNone)
		e.setStatus(stateListening, "entry order failed")
		return nil
	}
	telemetry.GetGlobalMetrics().OrdersPlacedTotal.
		WithLabelValues(e.settings.Symbol, "MARKET").Inc()
	telemetry.GetGlobalMetrics().FlipsTotal.WithLabelValues(e.settings.Symbol).Inc()

	stopLoss, takeProfit := tradingutils.ProtectivePrices(
		target, price,
		e.settings.StopLossPercent, e.settings.TakeProfitPercent,
		e.filters.PricePrecision)

	closeSide := tradingutils.CloseSide(target)
	slErr := e.placeProtective(ctx, closeSide, stopLoss, core.ProtectiveStopLoss)
	tpErr := e.placeProtective(ctx, closeSide, takeProfit, core.ProtectiveTakeProfit)

	e.setSide(target)
	switch {
	case slErr != nil && tpErr != nil:
		e.setStatus(stateListening, fmt.Sprintf("position %s open UNPROTECTED: both protective orders failed", target))
		e.notify(ctx, "Unprotected position", fmt.Sprintf("%s position open with no protective orders", target), alert.Critical)
	case slErr != nil:
		e.setStatus(stateListening, fmt.Sprintf("position %s open without stop-loss", target))
		e.notify(ctx, "Missing stop-loss", fmt.Sprintf("%s position open without a stop-loss order", target), alert.Critical)
	case tpErr != nil:
		e.setStatus(stateListening, fmt.Sprintf("position %s open without take-profit", target))
		e.notify(ctx, "Missing take-profit", fmt.Sprintf("%s position open without a take-profit order", target), alert.Warning)
	default:
		e.setStatus(stateListening, fmt.Sprintf("position %s open, protected", target))
	}

	e.logger.Info("Flip complete",
		"side", string(target), "quantity", qty.String(),
		"entry_price", price.String(),
		"stop_loss", stopLoss.String(), "take_profit", takeProfit.String())
	return nil
}

// closeExisting flattens the current position, if any, and records the trade.
func (e *Engine) closeExisting(ctx context.Context) error {
	pos, err := e.exchange.GetOpenPosition(ctx, e.settings.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return nil
	}

	if err := e.exchange.CancelAllOpenOrders(ctx, e.settings.Symbol); err != nil {
		return err
	}
	if err := e.exchange.ClosePositionAtMarket(ctx, e.settings.Symbol); err != nil {
		return err
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
	}

	pnl := e.realizedPnL(ctx)
	e.recordTrade(pnl, core.TradeClosedByFlip)
	e.setSide(core.SideNone)
	return nil
}

// placeProtective places one protective order, retrying once. An unprotected
// live position is a real financial risk, so failures propagate to status
// rather than being only logged.
func (e *Engine) placeProtective(ctx context.Context, side core.OrderSide, stopPrice decimal.Decimal, kind core.ProtectiveKind) error {
	var err error
	for attempt := 0; attempt <= protectiveRetries; attempt++ {
		_, err = e.exchange.PlaceProtectiveOrder(ctx, e.settings.Symbol, side, stopPrice, kind)
		if err == nil {
			telemetry.GetGlobalMetrics().OrdersPlacedTotal.
				WithLabelValues(e.settings.Symbol, string(kind)).Inc()
			return nil
		}
		e.logger.Error("Protective order failed",
			"kind", string(kind), "attempt", attempt+1, "error", err)
	}
	return err
}

// Stop tears the engine down: close any open position, stop the stream, and
// mark the engine idle. Blocks until fully stopped. No-op if not running. A
// Stop arriving while startup is still in flight is recorded and carried out
// by Start once startup completes.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.st == stateStarting {
		e.pendingStop = true
		e.mu.Unlock()
		return
	}
	if e.st == stateIdle || e.cancel == nil {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
}

// teardown runs exactly once, from the run goroutine, after the loop exits.
func (e *Engine) teardown() {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()

	if e.currentSide() != core.SideNone {
		if err := e.exchange.CancelAllOpenOrders(ctx, e.settings.Symbol); err != nil {
			e.logger.Warn("Order cancellation on stop failed", "error", err)
		}
		if err := e.exchange.ClosePositionAtMarket(ctx, e.settings.Symbol); err != nil {
			e.logger.Error("Position close on stop failed", "error", err)
		} else {
			select {
			case <-time.After(settleDelay):
			case <-ctx.Done():
			}
			pnl := e.realizedPnL(ctx)
			e.recordTrade(pnl, core.TradeClosedOnStop)
		}
		e.setSide(core.SideNone)
	}

	e.stream.Stop()

	e.mu.Lock()
	e.st = stateIdle
	e.message = "stopped"
	e.cancel = nil
	e.mu.Unlock()

	telemetry.GetGlobalMetrics().EnginesRunning.Dec()
	e.logger.Info("Engine stopped")
}

// GetStatus returns a point-in-time snapshot, safe to call at any time.
func (e *Engine) GetStatus() core.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return core.EngineStatus{
		IsRunning:    e.st != stateIdle,
		PositionSide: e.side,
		Message:      e.message,
		LastCheck:    e.lastCheck,
	}
}

func (e *Engine) realizedPnL(ctx context.Context) decimal.Decimal {
	pnl, err := e.exchange.GetLastRealizedPnL(ctx, e.settings.Symbol)
	if err != nil {
		e.logger.Warn("Realized PnL query failed", "error", err)
		return decimal.Zero
	}
	return pnl
}

func (e *Engine) recordTrade(pnl decimal.Decimal, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trade := core.TradeRecord{
		Symbol:    e.settings.Symbol,
		PnL:       pnl,
		Status:    status,
		Timestamp: time.Now(),
	}
	if err := e.ledger.RecordTrade(ctx, e.settings.AccountID, trade); err != nil {
		e.logger.Error("Trade record failed", "status", status, "error", err)
	}
	pnlF, _ := pnl.Float64()
	telemetry.GetGlobalMetrics().PnLRealizedTotal.
		WithLabelValues(e.settings.Symbol).Add(pnlF)
}

func (e *Engine) currentSide() core.Side {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.side
}

func (e *Engine) setSide(side core.Side) {
	e.mu.Lock()
	e.side = side
	e.mu.Unlock()
}

func (e *Engine) setStatus(st state, msg string) {
	e.mu.Lock()
	e.st = st
	e.message = msg
	e.mu.Unlock()
}
