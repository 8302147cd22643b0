package db

import (
	"database/sql"
	"fmt"
	"time"
)

// InboxEntry is one remote change recorded in the append-only inbox log.
type InboxEntry struct {
	Version     int64
	Entity      string
	EntityID    string
	Action      string
	PayloadJSON []byte
	UpdatedAt   time.Time
	ReceivedAt  time.Time
}

// AppendInboxTx records an applied remote change inside the pull-page
// transaction. Re-applying a version after a rolled-back page is a no-op,
// which keeps page retries replay-safe.
func AppendInboxTx(tx *sql.Tx, e InboxEntry) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO sync_inbox (version, entity, entity_id, action, payload_json, updated_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Version, e.Entity, e.EntityID, e.Action, string(e.PayloadJSON),
		formatTime(e.UpdatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append inbox version %d: %w", e.Version, err)
	}
	return nil
}

// ListInbox returns inbox entries with version > since, oldest first.
func (db *DB) ListInbox(since int64, limit int) ([]InboxEntry, error) {
	rows, err := db.conn.Query(`
		SELECT version, entity, entity_id, action, payload_json, updated_at, received_at
		FROM sync_inbox
		WHERE version > ?
		ORDER BY version ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var entries []InboxEntry
	for rows.Next() {
		var (
			e              InboxEntry
			payload, up, rc string
		)
		if err := rows.Scan(&e.Version, &e.Entity, &e.EntityID, &e.Action, &payload, &up, &rc); err != nil {
			return nil, fmt.Errorf("scan inbox row: %w", err)
		}
		e.PayloadJSON = []byte(payload)
		if e.UpdatedAt, err = parseTimestamp(up); err != nil {
			return nil, fmt.Errorf("parse inbox updated_at v%d: %w", e.Version, err)
		}
		if e.ReceivedAt, err = parseTimestamp(rc); err != nil {
			return nil, fmt.Errorf("parse inbox received_at v%d: %w", e.Version, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
