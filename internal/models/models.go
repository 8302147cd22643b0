package models

import (
	"fmt"
	"time"
)

// Release statuses.
const (
	StatusBacklog   = "backlog"
	StatusListening = "listening"
	StatusListened  = "listened"
)

// Release formats.
const (
	FormatLP          = "lp"
	FormatEP          = "ep"
	FormatSingle      = "single"
	FormatMixtape     = "mixtape"
	FormatCompilation = "compilation"
)

// Release is a music release the user intends to listen to.
type Release struct {
	ID          string
	Artist      string
	Title       string
	ReleaseDate string // YYYY-MM-DD, empty if unknown
	Format      string
	Status      string
	Rating      int // 0-5, 0 = unrated
	SourceURL   string
	ListenedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Note is a free-form listening note attached to a release.
type Note struct {
	ID        string
	ReleaseID string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// ValidStatus reports whether s is a known release status.
func ValidStatus(s string) bool {
	switch s {
	case StatusBacklog, StatusListening, StatusListened:
		return true
	}
	return false
}

// ValidFormat reports whether f is a known release format.
func ValidFormat(f string) bool {
	switch f {
	case FormatLP, FormatEP, FormatSingle, FormatMixtape, FormatCompilation:
		return true
	}
	return false
}

// ValidateRelease checks the fields a release must carry before it is stored
// or queued for sync.
func ValidateRelease(r *Release) error {
	if r.ID == "" {
		return fmt.Errorf("release id is required")
	}
	if r.Artist == "" {
		return fmt.Errorf("artist is required")
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !ValidStatus(r.Status) {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if !ValidFormat(r.Format) {
		return fmt.Errorf("invalid format %q", r.Format)
	}
	if r.Rating < 0 || r.Rating > 5 {
		return fmt.Errorf("rating must be 0-5, got %d", r.Rating)
	}
	if r.ReleaseDate != "" {
		if _, err := time.Parse("2006-01-02", r.ReleaseDate); err != nil {
			return fmt.Errorf("invalid release date %q (want YYYY-MM-DD)", r.ReleaseDate)
		}
	}
	return nil
}
