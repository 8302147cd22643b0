// Package cmd implements the crate CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "crate",
	Short: "Track music releases you intend to listen to",
	Long: `crate - an offline-first CLI for tracking music releases you intend to
listen to, with background sync across devices.

All commands work against the local database; sync happens opportunistically
when a sync server is configured.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir, initLogging)

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// initBaseDir resolves the working directory commands operate in.
// CRATE_DIR overrides the current directory.
func initBaseDir() {
	if v := os.Getenv("CRATE_DIR"); v != "" {
		baseDir = v
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		baseDir = "."
		return
	}
	baseDir = wd
}

// initLogging keeps slog quiet unless CRATE_DEBUG is set.
func initLogging() {
	level := slog.LevelWarn
	if os.Getenv("CRATE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func getBaseDir() string {
	if baseDir == "" {
		initBaseDir()
	}
	return baseDir
}
