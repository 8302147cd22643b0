package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marin/crate/internal/models"
)

// Payloads are the typed variants behind the wire's per-entity payload
// field. They are validated at the transport boundary: a payload that does
// not decode into its variant fails the page rather than being skipped,
// so schema drift between client and server surfaces immediately.

// ReleasePayload is the wire form of a release.
type ReleasePayload struct {
	ID          string     `json:"id"`
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	ReleaseDate string     `json:"releaseDate,omitempty"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	Rating      int        `json:"rating,omitempty"`
	SourceURL   string     `json:"sourceUrl,omitempty"`
	ListenedAt  *time.Time `json:"listenedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// NotePayload is the wire form of a listening note.
type NotePayload struct {
	ID        string     `json:"id"`
	ReleaseID string     `json:"releaseId"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// DecodeReleasePayload parses and validates a release payload.
func DecodeReleasePayload(raw json.RawMessage) (*ReleasePayload, error) {
	var p ReleasePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode release payload: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("release payload missing id")
	}
	if p.Artist == "" || p.Title == "" {
		return nil, fmt.Errorf("release payload %s missing artist or title", p.ID)
	}
	if !models.ValidStatus(p.Status) {
		return nil, fmt.Errorf("release payload %s has invalid status %q", p.ID, p.Status)
	}
	if !models.ValidFormat(p.Format) {
		return nil, fmt.Errorf("release payload %s has invalid format %q", p.ID, p.Format)
	}
	return &p, nil
}

// DecodeNotePayload parses and validates a note payload.
func DecodeNotePayload(raw json.RawMessage) (*NotePayload, error) {
	var p NotePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode note payload: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("note payload missing id")
	}
	if p.ReleaseID == "" {
		return nil, fmt.Errorf("note payload %s missing releaseId", p.ID)
	}
	return &p, nil
}

// ToModel converts a wire payload to the local record form.
func (p *ReleasePayload) ToModel() *models.Release {
	return &models.Release{
		ID:          p.ID,
		Artist:      p.Artist,
		Title:       p.Title,
		ReleaseDate: p.ReleaseDate,
		Format:      p.Format,
		Status:      p.Status,
		Rating:      p.Rating,
		SourceURL:   p.SourceURL,
		ListenedAt:  p.ListenedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		DeletedAt:   p.DeletedAt,
	}
}

// ToModel converts a wire payload to the local record form.
func (p *NotePayload) ToModel() *models.Note {
	return &models.Note{
		ID:        p.ID,
		ReleaseID: p.ReleaseID,
		Body:      p.Body,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		DeletedAt: p.DeletedAt,
	}
}

// ReleaseToPayload builds the wire payload for a local release.
func ReleaseToPayload(r *models.Release) *ReleasePayload {
	return &ReleasePayload{
		ID:          r.ID,
		Artist:      r.Artist,
		Title:       r.Title,
		ReleaseDate: r.ReleaseDate,
		Format:      r.Format,
		Status:      r.Status,
		Rating:      r.Rating,
		SourceURL:   r.SourceURL,
		ListenedAt:  r.ListenedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeletedAt:   r.DeletedAt,
	}
}

// NoteToPayload builds the wire payload for a local note.
func NoteToPayload(n *models.Note) *NotePayload {
	return &NotePayload{
		ID:        n.ID,
		ReleaseID: n.ReleaseID,
		Body:      n.Body,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		DeletedAt: n.DeletedAt,
	}
}

// DeletePayload is the minimal payload for a queued delete: just the
// canonical id.
type DeletePayload struct {
	ID string `json:"id"`
}

// recordDeleted reports whether a conflict's serverRecord snapshot is a
// tombstone (the entity was deleted server-side).
func recordDeleted(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var probe struct {
		Deleted   bool       `json:"deleted"`
		DeletedAt *time.Time `json:"deletedAt"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Deleted || probe.DeletedAt != nil
}
