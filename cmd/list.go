package cmd

import (
	"fmt"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listFormat string
	listArtist string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		releases, err := database.ListReleases(db.ReleaseFilter{
			Status: listStatus,
			Format: listFormat,
			Artist: listArtist,
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(releases)
		}
		if len(releases) == 0 {
			output.Info("Nothing here. Add a release with 'crate add'.")
			return nil
		}
		for i := range releases {
			fmt.Println(output.ReleaseLine(&releases[i]))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (backlog, listening, listened)")
	listCmd.Flags().StringVar(&listFormat, "format", "", "filter by format")
	listCmd.Flags().StringVar(&listArtist, "artist", "", "filter by artist substring")
	rootCmd.AddCommand(listCmd)
}
