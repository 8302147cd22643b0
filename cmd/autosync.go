package cmd

import (
	"context"
	"log/slog"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/syncconfig"
)

// autoSyncAfterMutation runs a best-effort sync cycle after a mutating
// command. Runs synchronously with a short timeout; failures are logged, not
// returned — the queued ops stay in the outbox for the next cycle.
func autoSyncAfterMutation(database *db.DB) {
	if !syncconfig.GetAutoSyncEnabled() {
		return
	}
	if !syncconfig.IsAuthenticated() {
		return
	}

	engine, err := newSyncEngine(database)
	if err != nil {
		slog.Debug("autosync: wire engine", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autoSyncTimeout)
	defer cancel()

	if _, err := engine.RunOnce(ctx); err != nil {
		slog.Debug("autosync: cycle", "err", err)
	}
}
