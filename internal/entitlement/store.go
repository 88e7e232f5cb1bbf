// Package entitlement decides whether an account is allowed to trade.
package entitlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trend_trader/internal/core"
)

// SQLiteStore answers entitlement queries from a local SQLite database kept in
// sync by the billing backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the entitlement database, creating the schema if
// missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlement database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping entitlement database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS entitlements (
		account_id TEXT PRIMARY KEY,
		active     INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create entitlement schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// IsActive reports whether the account holds an active, unexpired
// entitlement. An unknown account is inactive, not an error.
func (s *SQLiteStore) IsActive(ctx context.Context, accountID string) (bool, error) {
	var active int
	var expiresAt sql.NullInt64

	query := `SELECT active, expires_at FROM entitlements WHERE account_id = ?`
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&active, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query entitlement: %w", err)
	}

	if active == 0 {
		return false, nil
	}
	if expiresAt.Valid && expiresAt.Int64 > 0 && expiresAt.Int64 <= time.Now().Unix() {
		return false, nil
	}
	return true, nil
}

// Grant upserts an active entitlement. A zero expiry means no expiry.
func (s *SQLiteStore) Grant(ctx context.Context, accountID string, expiresAt time.Time) error {
	var exp int64
	if !expiresAt.IsZero() {
		exp = expiresAt.Unix()
	}
	query := `INSERT INTO entitlements (account_id, active, expires_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			active = 1, expires_at = excluded.expires_at, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, accountID, exp, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to grant entitlement: %w", err)
	}
	return nil
}

// Revoke marks the account inactive.
func (s *SQLiteStore) Revoke(ctx context.Context, accountID string) error {
	query := `UPDATE entitlements SET active = 0, updated_at = ? WHERE account_id = ?`
	_, err := s.db.ExecContext(ctx, query, time.Now().Unix(), accountID)
	if err != nil {
		return fmt.Errorf("failed to revoke entitlement: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ core.EntitlementGate = (*SQLiteStore)(nil)
