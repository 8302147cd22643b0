// Package output provides styled terminal output helpers (success, error,
// warning, release formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marin/crate/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[string]lipgloss.Style{
		models.StatusBacklog:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusListening: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusListened:  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// ReleaseLine renders a one-line list entry for a release.
func ReleaseLine(r *models.Release) string {
	status, ok := statusStyles[r.Status]
	if !ok {
		status = subtleStyle
	}
	var b strings.Builder
	b.WriteString(subtleStyle.Render(r.ID))
	b.WriteString("  ")
	b.WriteString(status.Render(fmt.Sprintf("%-9s", r.Status)))
	b.WriteString("  ")
	b.WriteString(titleStyle.Render(r.Artist + " - " + r.Title))
	if r.Format != "" {
		b.WriteString(subtleStyle.Render("  [" + r.Format + "]"))
	}
	if r.ReleaseDate != "" {
		b.WriteString(subtleStyle.Render("  " + r.ReleaseDate))
	}
	return b.String()
}

// ReleaseDetail renders a multi-line view of a release and its notes.
func ReleaseDetail(r *models.Release, notes []*models.Note) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(r.Artist+" - "+r.Title) + "\n")
	b.WriteString(subtleStyle.Render(r.ID) + "\n\n")

	status, ok := statusStyles[r.Status]
	if !ok {
		status = subtleStyle
	}
	b.WriteString("Status:   " + status.Render(r.Status) + "\n")
	if r.Format != "" {
		b.WriteString("Format:   " + r.Format + "\n")
	}
	if r.ReleaseDate != "" {
		b.WriteString("Released: " + r.ReleaseDate + "\n")
	}
	if r.Rating > 0 {
		b.WriteString("Rating:   " + strings.Repeat("*", r.Rating) + "\n")
	}
	if r.SourceURL != "" {
		b.WriteString("Source:   " + r.SourceURL + "\n")
	}
	if r.ListenedAt != nil {
		b.WriteString("Listened: " + r.ListenedAt.Format(time.RFC822) + "\n")
	}
	b.WriteString(subtleStyle.Render("Added:    "+r.CreatedAt.Format(time.RFC822)) + "\n")

	if len(notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, n := range notes {
			b.WriteString("  " + subtleStyle.Render(n.ID) + "  " + n.Body + "\n")
		}
	}
	return b.String()
}
