package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_core/internal/domain"
)

// SQLiteStore backs the safety counters and reads the trade log.
// Counters behave like a hash with a key-level TTL: every write to a key
// pushes the expiry of all its fields forward.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.PurgeExpired(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS safety_counters (
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (key, field)
		);`,
		// trade_log is written by the trade logger; this store only reads it.
		`CREATE TABLE IF NOT EXISTS trade_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			mode_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			pnl_usd REAL NOT NULL,
			closed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_log_user_mode ON trade_log(user_id, mode_id, closed_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// Incr atomically adds delta to key/field and returns the new value.
// An expired field restarts from delta.
func (s *SQLiteStore) Incr(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	now := s.now()
	expiresAt := now.Add(ttl).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var value int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO safety_counters (key, field, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key, field) DO UPDATE SET
			value = CASE WHEN safety_counters.expires_at <= ? THEN excluded.value
			             ELSE safety_counters.value + excluded.value END,
			expires_at = excluded.expires_at
		RETURNING value`,
		key, field, delta, expiresAt, now.UnixMilli(),
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("incr %s/%s: %w", key, field, err)
	}

	if err := s.touch(ctx, tx, key, expiresAt); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, field string, value int64, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO safety_counters (key, field, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key, field) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, field, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", key, field, err)
	}
	if err := s.touch(ctx, tx, key, expiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) touch(ctx context.Context, tx *sql.Tx, key string, expiresAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE safety_counters SET expires_at = ? WHERE key = ? AND expires_at > ?`,
		expiresAt, key, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("touch %s: %w", key, err)
	}
	return nil
}

// GetAll returns the live fields of key.
func (s *SQLiteStore) GetAll(ctx context.Context, key string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM safety_counters WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var field string
		var value int64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM safety_counters WHERE expires_at <= ?`, s.now().UnixMilli())
	return err
}

// --- trade log (read-only) ---

func (s *SQLiteStore) TradesSince(ctx context.Context, userID int64, modeID string, since time.Time) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx, `
		SELECT id, user_id, mode_id, symbol, side, pnl_usd, closed_at FROM trade_log
		WHERE user_id = ? AND mode_id = ? AND closed_at >= ?
		ORDER BY closed_at ASC`,
		userID, modeID, since.UnixMilli(),
	)
}

// RecentTrades returns the latest trades, newest first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, userID int64, modeID string, limit int) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx, `
		SELECT id, user_id, mode_id, symbol, side, pnl_usd, closed_at FROM trade_log
		WHERE user_id = ? AND mode_id = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ?`,
		userID, modeID, limit,
	)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trade log: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		var closedAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.ModeID, &t.Symbol, &side, &t.PnLUSD, &closedAt); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.ClosedAt = time.UnixMilli(closedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
