package cmd

import (
	"time"

	"github.com/marin/crate/internal/auth"
	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/models"
	cratesync "github.com/marin/crate/internal/sync"
	"github.com/marin/crate/internal/syncclient"
	"github.com/marin/crate/internal/syncconfig"
)

// autoSyncTimeout bounds best-effort auto-sync so a slow or absent server
// never stalls an interactive command.
const autoSyncTimeout = 5 * time.Second

// newSyncEngine wires a sync engine over the given local database using the
// configured server, credentials and batch settings.
func newSyncEngine(database *db.DB) (*cratesync.Engine, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, err
	}

	gateway := auth.New(syncconfig.GetServerURL(), syncconfig.GetRefreshToken())
	client := syncclient.New(syncconfig.GetServerURL(), deviceID, gateway)

	return cratesync.New(database, client, gateway, cratesync.Options{
		PushBatchSize: syncconfig.GetPushBatchSize(),
		PullLimit:     syncconfig.GetPullLimit(),
		MaxPullPages:  syncconfig.GetMaxPullPages(),
	}), nil
}

// queueReleaseUpsert enqueues the release's current state for the next push.
func queueReleaseUpsert(engine *cratesync.Engine, r *models.Release) error {
	_, err := engine.QueueOperation(cratesync.QueuedOp{
		Entity:          cratesync.EntityRelease,
		Action:          cratesync.ActionUpsert,
		Payload:         cratesync.ReleaseToPayload(r),
		ClientUpdatedAt: r.UpdatedAt,
	})
	return err
}

// queueReleaseDelete enqueues a delete op for a release.
func queueReleaseDelete(engine *cratesync.Engine, id string) error {
	_, err := engine.QueueOperation(cratesync.QueuedOp{
		Entity:  cratesync.EntityRelease,
		Action:  cratesync.ActionDelete,
		Payload: cratesync.DeletePayload{ID: id},
	})
	return err
}

// queueNoteUpsert enqueues the note's current state for the next push.
func queueNoteUpsert(engine *cratesync.Engine, n *models.Note) error {
	_, err := engine.QueueOperation(cratesync.QueuedOp{
		Entity:          cratesync.EntityNote,
		Action:          cratesync.ActionUpsert,
		Payload:         cratesync.NoteToPayload(n),
		ClientUpdatedAt: n.UpdatedAt,
	})
	return err
}

// queueNoteDelete enqueues a delete op for a note.
func queueNoteDelete(engine *cratesync.Engine, id string) error {
	_, err := engine.QueueOperation(cratesync.QueuedOp{
		Entity:  cratesync.EntityNote,
		Action:  cratesync.ActionDelete,
		Payload: cratesync.DeletePayload{ID: id},
	})
	return err
}
