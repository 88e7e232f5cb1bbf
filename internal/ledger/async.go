package ledger

import (
	"context"
	"time"

	"trend_trader/internal/core"
	"trend_trader/pkg/concurrency"
)

const writeTimeout = 5 * time.Second

// AsyncRecorder queues ledger writes onto a worker pool so the trading loop
// never blocks on disk. Write failures are logged and dropped; the ledger is
// an audit trail, not the source of truth for positions.
type AsyncRecorder struct {
	inner  core.TradeLedger
	pool   *concurrency.WorkerPool
	logger core.Logger
}

// NewAsyncRecorder wraps inner with a small write pool.
func NewAsyncRecorder(inner core.TradeLedger, logger core.Logger) *AsyncRecorder {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "trade_ledger",
		MaxWorkers:  2,
		MaxCapacity: 64,
		NonBlocking: true,
	}, logger)

	return &AsyncRecorder{
		inner:  inner,
		pool:   pool,
		logger: logger.WithField("component", "trade_ledger"),
	}
}

// RecordTrade enqueues the write and returns immediately.
func (r *AsyncRecorder) RecordTrade(_ context.Context, accountID string, trade core.TradeRecord) error {
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.inner.RecordTrade(ctx, accountID, trade); err != nil {
			r.logger.Error("Trade record write failed",
				"account_id", accountID, "symbol", trade.Symbol,
				"status", trade.Status, "error", err)
		}
	})
	if err != nil {
		r.logger.Error("Trade record dropped, ledger queue full",
			"account_id", accountID, "symbol", trade.Symbol)
	}
	return nil
}

// Close drains queued writes.
func (r *AsyncRecorder) Close() {
	r.pool.Stop()
}

var _ core.TradeLedger = (*AsyncRecorder)(nil)
