package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marin/crate/internal/models"
)

// CreateRelease inserts a new release.
func (db *DB) CreateRelease(r *models.Release) error {
	if err := models.ValidateRelease(r); err != nil {
		return err
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	_, err := db.conn.Exec(`
		INSERT INTO releases (id, artist, title, release_date, format, status, rating, source_url, listened_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Artist, r.Title, r.ReleaseDate, r.Format, r.Status, r.Rating, r.SourceURL,
		nullTime(r.ListenedAt), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert release %s: %w", r.ID, err)
	}
	return nil
}

// GetRelease returns a release by id, or nil when it does not exist or is
// soft-deleted.
func (db *DB) GetRelease(id string) (*models.Release, error) {
	row := db.conn.QueryRow(selectRelease+` WHERE id = ? AND deleted_at IS NULL`, id)
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", id, err)
	}
	return r, nil
}

// ReleaseFilter narrows ListReleases. Empty fields match everything.
type ReleaseFilter struct {
	Status string
	Format string
	Artist string
}

// ListReleases returns non-deleted releases matching the filter, newest first.
func (db *DB) ListReleases(f ReleaseFilter) ([]models.Release, error) {
	query := selectRelease + ` WHERE deleted_at IS NULL`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Format != "" {
		query += ` AND format = ?`
		args = append(args, f.Format)
	}
	if f.Artist != "" {
		query += ` AND artist LIKE ?`
		args = append(args, "%"+f.Artist+"%")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var releases []models.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, *r)
	}
	return releases, rows.Err()
}

// MarkListened sets a release to listened with an optional rating and
// returns the updated record.
func (db *DB) MarkListened(id string, rating int) (*models.Release, error) {
	now := time.Now()
	res, err := db.conn.Exec(`
		UPDATE releases SET status = ?, rating = ?, listened_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		models.StatusListened, rating, formatTime(now), formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("mark listened %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.GetRelease(id)
}

// SetReleaseStatus moves a release to the given status.
func (db *DB) SetReleaseStatus(id, status string) (*models.Release, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	res, err := db.conn.Exec(`
		UPDATE releases SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		status, formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("set status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.GetRelease(id)
}

// SoftDeleteRelease marks a release deleted locally. The matching delete op
// in the outbox carries the deletion to the server.
func (db *DB) SoftDeleteRelease(id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := db.conn.Exec(`
		UPDATE releases SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return false, fmt.Errorf("delete release %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertReleaseTx applies an id-keyed upsert inside a pull-page transaction.
func UpsertReleaseTx(tx *sql.Tx, r *models.Release) error {
	_, err := tx.Exec(`
		INSERT INTO releases (id, artist, title, release_date, format, status, rating, source_url, listened_at, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			artist = excluded.artist,
			title = excluded.title,
			release_date = excluded.release_date,
			format = excluded.format,
			status = excluded.status,
			rating = excluded.rating,
			source_url = excluded.source_url,
			listened_at = excluded.listened_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		r.ID, r.Artist, r.Title, r.ReleaseDate, r.Format, r.Status, r.Rating, r.SourceURL,
		nullTime(r.ListenedAt), formatTime(r.CreatedAt), formatTime(r.UpdatedAt), nullTime(r.DeletedAt))
	if err != nil {
		return fmt.Errorf("upsert release %s: %w", r.ID, err)
	}
	return nil
}

// DeleteReleaseTx removes a release row inside a pull-page transaction.
// Deleting an absent row is a no-op, keeping replays idempotent.
func DeleteReleaseTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM releases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete release %s: %w", id, err)
	}
	return nil
}

const selectRelease = `
	SELECT id, artist, title, release_date, format, status, rating, source_url,
	       listened_at, created_at, updated_at, deleted_at
	FROM releases`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*models.Release, error) {
	var (
		r                 models.Release
		listened, deleted sql.NullString
		created, updated  string
	)
	err := row.Scan(&r.ID, &r.Artist, &r.Title, &r.ReleaseDate, &r.Format, &r.Status,
		&r.Rating, &r.SourceURL, &listened, &created, &updated, &deleted)
	if err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	if r.ListenedAt, err = parseNullTime(listened); err != nil {
		return nil, err
	}
	if r.DeletedAt, err = parseNullTime(deleted); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// ReleaseExistsAny reports whether a release row exists, deleted or not.
func (db *DB) ReleaseExistsAny(id string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM releases WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// NormalizeReleaseID ensures a release id carries the rl- prefix.
func NormalizeReleaseID(id string) string {
	if id == "" || strings.HasPrefix(id, ReleaseIDPrefix) {
		return id
	}
	return ReleaseIDPrefix + id
}
