package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marin/crate/internal/models"
)

// CreateNote inserts a new listening note.
func (db *DB) CreateNote(n *models.Note) error {
	if n.ID == "" || n.ReleaseID == "" || n.Body == "" {
		return fmt.Errorf("note id, release id and body are required")
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	_, err := db.conn.Exec(`
		INSERT INTO notes (id, release_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.ReleaseID, n.Body, formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert note %s: %w", n.ID, err)
	}
	return nil
}

// GetNote returns a note by id, or nil when missing or soft-deleted.
func (db *DB) GetNote(id string) (*models.Note, error) {
	row := db.conn.QueryRow(`
		SELECT id, release_id, body, created_at, updated_at, deleted_at
		FROM notes WHERE id = ? AND deleted_at IS NULL`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns the non-deleted notes for a release, oldest first.
func (db *DB) ListNotes(releaseID string) ([]models.Note, error) {
	rows, err := db.conn.Query(`
		SELECT id, release_id, body, created_at, updated_at, deleted_at
		FROM notes WHERE release_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list notes for %s: %w", releaseID, err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// SoftDeleteNote marks a note deleted locally.
func (db *DB) SoftDeleteNote(id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := db.conn.Exec(`
		UPDATE notes SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return false, fmt.Errorf("delete note %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertNoteTx applies an id-keyed upsert inside a pull-page transaction.
func UpsertNoteTx(tx *sql.Tx, n *models.Note) error {
	_, err := tx.Exec(`
		INSERT INTO notes (id, release_id, body, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			release_id = excluded.release_id,
			body = excluded.body,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		n.ID, n.ReleaseID, n.Body, formatTime(n.CreatedAt), formatTime(n.UpdatedAt), nullTime(n.DeletedAt))
	if err != nil {
		return fmt.Errorf("upsert note %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNoteTx removes a note row inside a pull-page transaction.
func DeleteNoteTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	return nil
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		n                models.Note
		deleted          sql.NullString
		created, updated string
	)
	err := row.Scan(&n.ID, &n.ReleaseID, &n.Body, &created, &updated, &deleted)
	if err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	if n.DeletedAt, err = parseNullTime(deleted); err != nil {
		return nil, err
	}
	return &n, nil
}

// NormalizeNoteID ensures a note id carries the nt- prefix.
func NormalizeNoteID(id string) string {
	if id == "" || strings.HasPrefix(id, NoteIDPrefix) {
		return id
	}
	return NoteIDPrefix + id
}
