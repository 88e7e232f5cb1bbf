// Package ledger persists closed trades.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
)

// SQLiteStore writes closed trades to a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the trade database, creating the schema if missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping trade database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS trades (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		pnl        TEXT NOT NULL,
		status     TEXT NOT NULL,
		closed_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_account ON trades (account_id, closed_at)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create trade schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// RecordTrade inserts one closed trade.
func (s *SQLiteStore) RecordTrade(ctx context.Context, accountID string, trade core.TradeRecord) error {
	ts := trade.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	query := `INSERT INTO trades (account_id, symbol, pnl, status, closed_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		accountID, trade.Symbol, trade.PnL.String(), trade.Status, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// TradesForAccount returns the most recent trades for an account, newest
// first.
func (s *SQLiteStore) TradesForAccount(ctx context.Context, accountID string, limit int) ([]core.TradeRecord, error) {
	query := `SELECT symbol, pnl, status, closed_at FROM trades
		WHERE account_id = ? ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []core.TradeRecord
	for rows.Next() {
		var t core.TradeRecord
		var pnl string
		var closedAt int64
		if err := rows.Scan(&t.Symbol, &pnl, &t.Status, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.PnL = parsePnL(pnl)
		t.Timestamp = time.UnixMilli(closedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parsePnL(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ core.TradeLedger = (*SQLiteStore)(nil)
