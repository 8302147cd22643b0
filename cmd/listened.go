package cmd

import (
	"fmt"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var listenedRating int

var listenedCmd = &cobra.Command{
	Use:   "listened ID",
	Short: "Mark a release as listened",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenedRating < 0 || listenedRating > 5 {
			output.Error("rating must be 0-5")
			return fmt.Errorf("rating must be 0-5")
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeReleaseID(args[0])
		r, err := database.MarkListened(id, listenedRating)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if r == nil {
			output.Error("no release %s", id)
			return fmt.Errorf("no release %s", id)
		}

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := queueReleaseUpsert(engine, r); err != nil {
			output.Error("queue sync op: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(r)
		}
		output.Success("Listened: %s - %s", r.Artist, r.Title)

		autoSyncAfterMutation(database)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Move a release to a status (backlog, listening, listened)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeReleaseID(args[0])
		r, err := database.SetReleaseStatus(id, args[1])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if r == nil {
			output.Error("no release %s", id)
			return fmt.Errorf("no release %s", id)
		}

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := queueReleaseUpsert(engine, r); err != nil {
			output.Error("queue sync op: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(r)
		}
		output.Success("%s -> %s", r.ID, r.Status)

		autoSyncAfterMutation(database)
		return nil
	},
}

func init() {
	listenedCmd.Flags().IntVarP(&listenedRating, "rating", "r", 0, "rating 1-5 (0 = unrated)")
	rootCmd.AddCommand(listenedCmd)
	rootCmd.AddCommand(statusCmd)
}
