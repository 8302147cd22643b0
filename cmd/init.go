package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a crate library in the current directory",
	Long:  `Creates the local .crate directory and SQLite database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()

		if _, err := os.Stat(filepath.Join(dir, ".crate")); err == nil {
			output.Warning(".crate/ already exists")
			return nil
		}

		database, err := db.Init(dir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		fmt.Println("INITIALIZED .crate/")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
