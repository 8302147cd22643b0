package cmd

import (
	"fmt"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/models"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a release and its notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeReleaseID(args[0])
		r, err := database.GetRelease(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if r == nil {
			output.Error("no release %s", id)
			return fmt.Errorf("no release %s", id)
		}

		notes, err := database.ListNotes(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(map[string]any{"release": r, "notes": notes})
		}
		notePtrs := make([]*models.Note, len(notes))
		for i := range notes {
			notePtrs[i] = &notes[i]
		}
		fmt.Print(output.ReleaseDetail(r, notePtrs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
