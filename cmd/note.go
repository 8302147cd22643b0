package cmd

import (
	"fmt"
	"strings"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/models"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:   "note RELEASE_ID BODY...",
	Short: "Attach a listening note to a release",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		releaseID := db.NormalizeReleaseID(args[0])
		r, err := database.GetRelease(releaseID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if r == nil {
			output.Error("no release %s", releaseID)
			return fmt.Errorf("no release %s", releaseID)
		}

		n := &models.Note{
			ID:        db.NewID(db.NoteIDPrefix),
			ReleaseID: releaseID,
			Body:      strings.Join(args[1:], " "),
		}
		if err := database.CreateNote(n); err != nil {
			output.Error("%v", err)
			return err
		}

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := queueNoteUpsert(engine, n); err != nil {
			output.Error("queue sync op: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(n)
		}
		output.Success("Noted %s on %s", n.ID, releaseID)

		autoSyncAfterMutation(database)
		return nil
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm NOTE_ID",
	Short: "Remove a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeNoteID(args[0])
		ok, err := database.SoftDeleteNote(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if !ok {
			output.Error("no note %s", id)
			return fmt.Errorf("no note %s", id)
		}

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := queueNoteDelete(engine, id); err != nil {
			output.Error("queue sync op: %v", err)
			return err
		}

		output.Success("Removed %s", id)
		autoSyncAfterMutation(database)
		return nil
	},
}

func init() {
	noteCmd.AddCommand(noteRmCmd)
	rootCmd.AddCommand(noteCmd)
}
