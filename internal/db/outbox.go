package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for outbox operations.
var (
	ErrDuplicateOp     = errors.New("duplicate op id")
	ErrMissingEntityID = errors.New("payload is missing entity id")
)

// Operation is one queued mutation in the outbox.
type Operation struct {
	ID              int64
	OpID            string
	Entity          string
	Action          string
	PayloadJSON     []byte
	ClientUpdatedAt time.Time
	Attempts        int
	LastError       *string
	CreatedAt       time.Time
}

// EnqueueOp durably inserts an operation into the outbox. The payload must
// carry a non-empty canonical id. Inserting an op_id that already exists
// returns ErrDuplicateOp.
func (db *DB) EnqueueOp(op Operation) error {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(op.PayloadJSON, &probe); err != nil {
		return fmt.Errorf("parse op payload: %w", err)
	}
	if probe.ID == "" {
		return ErrMissingEntityID
	}

	_, err := db.conn.Exec(`
		INSERT INTO sync_outbox (op_id, entity, action, payload_json, client_updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		op.OpID, op.Entity, op.Action, string(op.PayloadJSON), formatTime(op.ClientUpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateOp
		}
		return fmt.Errorf("enqueue op %s: %w", op.OpID, err)
	}
	return nil
}

// HasOp reports whether an operation with the given op id exists.
func (db *DB) HasOp(opID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_outbox WHERE op_id = ?`, opID).Scan(&n)
	return n > 0, err
}

// DequeueBatch returns up to limit eligible operations in FIFO order.
// Quarantined rows (non-null last_error) are never included.
func (db *DB) DequeueBatch(limit int) ([]Operation, error) {
	rows, err := db.conn.Query(`
		SELECT id, op_id, entity, action, payload_json, client_updated_at, attempts, last_error, created_at
		FROM sync_outbox
		WHERE last_error IS NULL
		ORDER BY id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// ListQuarantined returns operations parked with a conflict reason.
func (db *DB) ListQuarantined() ([]Operation, error) {
	rows, err := db.conn.Query(`
		SELECT id, op_id, entity, action, payload_json, client_updated_at, attempts, last_error, created_at
		FROM sync_outbox
		WHERE last_error IS NOT NULL
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query quarantined ops: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

func scanOps(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		var (
			op                  Operation
			payload, cuAt, crAt string
			lastErr             sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.OpID, &op.Entity, &op.Action, &payload, &cuAt, &op.Attempts, &lastErr, &crAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		op.PayloadJSON = []byte(payload)
		var err error
		if op.ClientUpdatedAt, err = parseTimestamp(cuAt); err != nil {
			return nil, fmt.Errorf("parse client_updated_at for %s: %w", op.OpID, err)
		}
		if op.CreatedAt, err = parseTimestamp(crAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", op.OpID, err)
		}
		if lastErr.Valid {
			op.LastError = &lastErr.String
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteByOpIDs removes acknowledged operations. Idempotent: unknown ids are
// ignored.
func (db *DB) DeleteByOpIDs(opIDs []string) error {
	if len(opIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(opIDs)-1) + "?"
	args := make([]any, len(opIDs))
	for i, id := range opIDs {
		args[i] = id
	}
	_, err := db.conn.Exec(`DELETE FROM sync_outbox WHERE op_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete acked ops: %w", err)
	}
	return nil
}

// MarkConflict quarantines an operation: bumps attempts and records the
// reason. The op is excluded from push batches until the reason is cleared.
func (db *DB) MarkConflict(opID, reason string) error {
	_, err := db.conn.Exec(`
		UPDATE sync_outbox SET attempts = attempts + 1, last_error = ? WHERE op_id = ?`,
		reason, opID)
	if err != nil {
		return fmt.Errorf("mark conflict %s: %w", opID, err)
	}
	return nil
}

// ClearConflict resets last_error so the operation becomes eligible again.
// Returns the number of rows affected (0 when the op id is unknown).
func (db *DB) ClearConflict(opID string) (int64, error) {
	res, err := db.conn.Exec(`UPDATE sync_outbox SET last_error = NULL WHERE op_id = ?`, opID)
	if err != nil {
		return 0, fmt.Errorf("clear conflict %s: %w", opID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountPending returns the number of push-eligible operations.
func (db *DB) CountPending() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_outbox WHERE last_error IS NULL`).Scan(&n)
	return n, err
}

// CountQuarantined returns the number of conflicted operations.
func (db *DB) CountQuarantined() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_outbox WHERE last_error IS NOT NULL`).Scan(&n)
	return n, err
}
