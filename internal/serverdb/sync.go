package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Conflict reasons reported back to pushing clients.
const (
	ReasonVersionConflict  = "version_conflict"
	ReasonValidationFailed = "validation_failed"
	ReasonNotFound         = "not_found"
	ReasonForbidden        = "forbidden"
)

var allowedEntities = map[string]bool{
	"release": true,
	"note":    true,
}

// PushOp is one client mutation in a push request.
type PushOp struct {
	OpID            string
	Entity          string
	Action          string
	Payload         json.RawMessage
	ClientUpdatedAt time.Time
}

// Conflict describes one rejected operation.
type Conflict struct {
	OpID          string
	Entity        string
	EntityID      string
	Reason        string
	ServerVersion int64
	ServerRecord  json.RawMessage
}

// PushResult is the outcome of applying one push batch.
type PushResult struct {
	AppliedOpIDs  []string
	Conflicts     []Conflict
	ServerVersion int64
}

// Change is one entry of the authoritative change log.
type Change struct {
	Version   int64
	Entity    string
	EntityID  string
	Action    string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// ApplyOps applies a batch of client operations for one user. Each op gets
// its own transaction: a conflicting op never blocks the rest of the batch,
// and a re-pushed op that already applied is re-acked without re-applying.
func (s *ServerDB) ApplyOps(userID string, ops []PushOp) (*PushResult, error) {
	res := &PushResult{AppliedOpIDs: []string{}, Conflicts: []Conflict{}}

	for _, op := range ops {
		applied, conflict, err := s.applyOp(userID, op)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, *conflict)
			continue
		}
		if applied {
			res.AppliedOpIDs = append(res.AppliedOpIDs, op.OpID)
		}
	}

	head, err := s.HeadVersion(userID)
	if err != nil {
		return nil, err
	}
	res.ServerVersion = head
	return res, nil
}

func (s *ServerDB) applyOp(userID string, op PushOp) (bool, *Conflict, error) {
	// Idempotency: an op already in the log is acked again, never reapplied.
	var prior int64
	err := s.conn.QueryRow(
		`SELECT version FROM applied_ops WHERE op_id = ?`, op.OpID,
	).Scan(&prior)
	if err == nil {
		return true, nil, nil
	}
	if err != sql.ErrNoRows {
		return false, nil, fmt.Errorf("check applied op: %w", err)
	}

	if !allowedEntities[op.Entity] {
		return false, &Conflict{OpID: op.OpID, Entity: op.Entity, Reason: ReasonForbidden}, nil
	}
	if op.Action != "upsert" && op.Action != "delete" {
		return false, &Conflict{OpID: op.OpID, Entity: op.Entity, Reason: ReasonValidationFailed}, nil
	}

	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(op.Payload, &probe); err != nil || probe.ID == "" {
		return false, &Conflict{OpID: op.OpID, Entity: op.Entity, Reason: ReasonValidationFailed}, nil
	}
	entityID := probe.ID

	tx, err := s.conn.Begin()
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var recVersion int64
	var recUpdated string
	var recDeleted int
	var recPayload string
	haveRecord := true
	err = tx.QueryRow(
		`SELECT version, updated_at, deleted, payload_json
         FROM records WHERE user_id = ? AND entity = ? AND entity_id = ?`,
		userID, op.Entity, entityID,
	).Scan(&recVersion, &recUpdated, &recDeleted, &recPayload)
	if err == sql.ErrNoRows {
		haveRecord = false
	} else if err != nil {
		return false, nil, fmt.Errorf("load record: %w", err)
	}

	if !haveRecord && op.Action == "delete" {
		return false, &Conflict{
			OpID: op.OpID, Entity: op.Entity, EntityID: entityID,
			Reason: ReasonNotFound,
		}, nil
	}

	if haveRecord {
		updated, perr := parseTimestamp(recUpdated)
		if perr == nil && updated.After(op.ClientUpdatedAt) {
			// The server copy moved past what the client last saw. The op is
			// rejected with a snapshot so the client can surface it.
			srv := json.RawMessage(recPayload)
			if recDeleted != 0 {
				tomb, _ := json.Marshal(map[string]any{
					"id": entityID, "deleted": true, "deletedAt": recUpdated,
				})
				srv = tomb
			}
			return false, &Conflict{
				OpID: op.OpID, Entity: op.Entity, EntityID: entityID,
				Reason: ReasonVersionConflict, ServerVersion: recVersion,
				ServerRecord: srv,
			}, nil
		}
	}

	now := time.Now()
	changeRes, err := tx.Exec(
		`INSERT INTO changes (user_id, entity, entity_id, action, payload_json, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		userID, op.Entity, entityID, op.Action, string(op.Payload), formatTime(now),
	)
	if err != nil {
		return false, nil, fmt.Errorf("append change: %w", err)
	}
	version, err := changeRes.LastInsertId()
	if err != nil {
		return false, nil, fmt.Errorf("change version: %w", err)
	}

	deleted := 0
	if op.Action == "delete" {
		deleted = 1
	}
	_, err = tx.Exec(
		`INSERT INTO records (user_id, entity, entity_id, version, updated_at, deleted, payload_json)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(user_id, entity, entity_id) DO UPDATE SET
             version = excluded.version,
             updated_at = excluded.updated_at,
             deleted = excluded.deleted,
             payload_json = excluded.payload_json`,
		userID, op.Entity, entityID, version, formatTime(now), deleted, string(op.Payload),
	)
	if err != nil {
		return false, nil, fmt.Errorf("upsert record: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO applied_ops (op_id, user_id, version, applied_at) VALUES (?, ?, ?, ?)`,
		op.OpID, userID, version, formatTime(now),
	)
	if err != nil {
		return false, nil, fmt.Errorf("record applied op: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit op: %w", err)
	}
	return true, nil, nil
}

// ListChanges returns up to limit log entries for a user with version >
// since, in version order.
func (s *ServerDB) ListChanges(userID string, since int64, limit int) ([]Change, error) {
	rows, err := s.conn.Query(
		`SELECT version, entity, entity_id, action, payload_json, updated_at
         FROM changes WHERE user_id = ? AND version > ?
         ORDER BY version LIMIT ?`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var payload, updated string
		if err := rows.Scan(&c.Version, &c.Entity, &c.EntityID, &c.Action, &payload, &updated); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		c.UpdatedAt, _ = parseTimestamp(updated)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// HeadVersion returns the highest log version visible to a user, 0 when the
// log is empty.
func (s *ServerDB) HeadVersion(userID string) (int64, error) {
	var head sql.NullInt64
	err := s.conn.QueryRow(
		`SELECT MAX(version) FROM changes WHERE user_id = ?`, userID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("head version: %w", err)
	}
	return head.Int64, nil
}
