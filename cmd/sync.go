package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/output"
	"github.com/marin/crate/internal/scheduler"
	cratesync "github.com/marin/crate/internal/sync"
	"github.com/marin/crate/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncWatch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the configured server",
	Long: `Runs one push-then-pull cycle against the sync server. With --watch,
keeps running on an interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		engine, err := newSyncEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if syncWatch {
			return runSyncWatch(engine)
		}

		res, err := engine.RunOnce(cmd.Context())
		if err != nil {
			output.Error("sync failed: %v", err)
			return err
		}
		return printSyncResult(res)
	},
}

func runSyncWatch(engine *cratesync.Engine) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := scheduler.NewRunner(engine, syncconfig.GetAutoSyncInterval())
	runner.SetResultHook(func(res cratesync.Result, err error) {
		if err != nil {
			output.Warning("sync: %v", err)
			return
		}
		if res.Pushed > 0 || res.Pulled > 0 || res.Conflicts > 0 {
			output.Info("synced: pushed %d, pulled %d, conflicts %d (cursor %d)",
				res.Pushed, res.Pulled, res.Conflicts, res.Cursor)
		}
	})
	runner.Run(ctx)
	return nil
}

func printSyncResult(res cratesync.Result) error {
	if jsonOutput {
		return output.JSON(res)
	}
	if res.Status == cratesync.StatusUnauthenticated {
		output.Warning("not authenticated: run 'crate login' first")
		return nil
	}
	output.Success("Synced: pushed %d, pulled %d, conflicts %d (cursor %d)",
		res.Pushed, res.Pulled, res.Conflicts, res.Cursor)
	return nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outbox and cursor state",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		pending, err := database.CountPending()
		if err != nil {
			return err
		}
		quarantined, err := database.CountQuarantined()
		if err != nil {
			return err
		}
		cursor, err := database.GetCursor()
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(map[string]any{
				"pending":     pending,
				"quarantined": quarantined,
				"cursor":      cursor,
				"server":      syncconfig.GetServerURL(),
				"logged_in":   syncconfig.IsAuthenticated(),
			})
		}

		output.Info("Server:      %s", syncconfig.GetServerURL())
		output.Info("Logged in:   %v", syncconfig.IsAuthenticated())
		output.Info("Cursor:      %d", cursor)
		output.Info("Pending:     %d", pending)
		output.Info("Quarantined: %d", quarantined)

		if quarantined > 0 {
			ops, err := database.ListQuarantined()
			if err != nil {
				return err
			}
			fmt.Println()
			for _, op := range ops {
				reason := ""
				if op.LastError != nil {
					reason = *op.LastError
				}
				output.Warning("%s  %s %s  attempts=%d  %s",
					op.OpID, op.Action, op.Entity, op.Attempts, reason)
			}
			output.Info("\nResolve with 'crate sync clear-conflict <op-id>' to retry an op.")
		}
		return nil
	},
}

var syncClearConflictCmd = &cobra.Command{
	Use:   "clear-conflict OP_ID",
	Short: "Clear a quarantined op so the next cycle retries it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		n, err := database.ClearConflict(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if n == 0 {
			output.Error("no quarantined op %s", args[0])
			return fmt.Errorf("no quarantined op %s", args[0])
		}
		output.Success("Cleared %s; it will be retried on the next sync", args[0])
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "keep syncing on an interval")
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncClearConflictCmd)
	rootCmd.AddCommand(syncCmd)
}
