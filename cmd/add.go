package cmd

import (
	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/models"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var (
	addFormat string
	addDate   string
	addSource string
	addStatus string
)

var addCmd = &cobra.Command{
	Use:   "add ARTIST TITLE",
	Short: "Add a release to the crate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		r := &models.Release{
			ID:          db.NewID(db.ReleaseIDPrefix),
			Artist:      args[0],
			Title:       args[1],
			ReleaseDate: addDate,
			Format:      addFormat,
			Status:      addStatus,
			SourceURL:   addSource,
		}
		if err := database.CreateRelease(r); err != nil {
			output.Error("%v", err)
			return err
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
		output.Success("Added %s", r.ID)
		output.Info("%s", output.ReleaseLine(r))

		autoSyncAfterMutation(database)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addFormat, "format", "f", models.FormatLP, "release format (lp, ep, single, mixtape, compilation)")
	addCmd.Flags().StringVarP(&addDate, "date", "d", "", "release date (YYYY-MM-DD)")
	addCmd.Flags().StringVarP(&addSource, "source", "s", "", "source URL")
	addCmd.Flags().StringVar(&addStatus, "status", models.StatusBacklog, "initial status (backlog, listening, listened)")
	rootCmd.AddCommand(addCmd)
}
