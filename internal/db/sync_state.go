package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

const cursorKey = "cursor"

// GetCursor returns the highest server version fully applied locally.
// Defaults to 0 when no sync has happened yet.
func (db *DB) GetCursor() (int64, error) {
	return getCursor(db.conn.QueryRow)
}

// GetCursorTx reads the cursor inside a transaction.
func GetCursorTx(tx *sql.Tx) (int64, error) {
	return getCursor(tx.QueryRow)
}

func getCursor(queryRow func(string, ...any) *sql.Row) (int64, error) {
	var value string
	err := queryRow(`SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", value, err)
	}
	return v, nil
}

// SetCursor persists the cursor. The cursor never moves backwards.
func (db *DB) SetCursor(v int64) error {
	return setCursor(db.conn.Exec, db.conn.QueryRow, v)
}

// SetCursorTx persists the cursor inside the pull-page transaction, so the
// advance commits atomically with the page's applied changes.
func SetCursorTx(tx *sql.Tx, v int64) error {
	return setCursor(tx.Exec, tx.QueryRow, v)
}

func setCursor(exec func(string, ...any) (sql.Result, error), queryRow func(string, ...any) *sql.Row, v int64) error {
	cur, err := getCursor(queryRow)
	if err != nil {
		return err
	}
	if v < cur {
		return fmt.Errorf("cursor would move backwards: %d < %d", v, cur)
	}
	_, err = exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		cursorKey, strconv.FormatInt(v, 10), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
