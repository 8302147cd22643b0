package cmd

import (
	"fmt"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove"},
	Short:   "Remove a release",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		id := db.NormalizeReleaseID(args[0])
		ok, err := database.SoftDeleteRelease(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if !ok {
			output.Error("no release %s", id)
			return fmt.Errorf("no release %s", id)
		}

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := queueReleaseDelete(engine, id); err != nil {
			output.Error("queue sync op: %v", err)
			return err
		}

		output.Success("Removed %s", id)
		autoSyncAfterMutation(database)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
