package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/marin/crate/internal/db"
)

// Applier translates a generic remote change into a concrete local upsert
// or delete for one entity kind. Appliers are idempotent: applying the same
// change twice leaves identical local state.
type Applier interface {
	Entity() string
	Apply(tx *sql.Tx, action Action, entityID string, payload json.RawMessage) error
}

type releaseApplier struct{}

func (releaseApplier) Entity() string { return EntityRelease }

func (releaseApplier) Apply(tx *sql.Tx, action Action, entityID string, payload json.RawMessage) error {
	switch action {
	case ActionUpsert:
		p, err := DecodeReleasePayload(payload)
		if err != nil {
			return err
		}
		return db.UpsertReleaseTx(tx, p.ToModel())
	case ActionDelete:
		if entityID == "" {
			return fmt.Errorf("release delete missing entity id")
		}
		return db.DeleteReleaseTx(tx, entityID)
	default:
		return fmt.Errorf("unknown action %q for release %s", action, entityID)
	}
}

type noteApplier struct{}

func (noteApplier) Entity() string { return EntityNote }

func (noteApplier) Apply(tx *sql.Tx, action Action, entityID string, payload json.RawMessage) error {
	switch action {
	case ActionUpsert:
		p, err := DecodeNotePayload(payload)
		if err != nil {
			return err
		}
		return db.UpsertNoteTx(tx, p.ToModel())
	case ActionDelete:
		if entityID == "" {
			return fmt.Errorf("note delete missing entity id")
		}
		return db.DeleteNoteTx(tx, entityID)
	default:
		return fmt.Errorf("unknown action %q for note %s", action, entityID)
	}
}

// defaultAppliers returns the applier registry covering every entity tag.
func defaultAppliers() map[string]Applier {
	appliers := map[string]Applier{}
	for _, a := range []Applier{releaseApplier{}, noteApplier{}} {
		appliers[a.Entity()] = a
	}
	return appliers
}
