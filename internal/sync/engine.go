// Package sync implements the offline-first synchronization engine: a
// durable outbox of local mutations, a monotonic pull cursor, and a
// push-then-pull cycle against a single authoritative server.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/syncclient"
)

// ErrSyncInFlight is returned when RunOnce is invoked while a prior cycle
// is still running. Overlapping triggers should be dropped, not queued.
var ErrSyncInFlight = errors.New("sync cycle already in flight")

// ErrUnknownEntity is returned when an operation names an entity no applier
// covers.
var ErrUnknownEntity = errors.New("unknown entity")

// TokenSource supplies a valid access token, refreshing as needed.
// auth.Gateway satisfies this.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options tune one engine instance. Zero values take defaults.
type Options struct {
	PushBatchSize int // max ops per push request (default 100)
	PullLimit     int // page size requested on pull (default 200)
	MaxPullPages  int // per-cycle pull page budget (default 10)

	// ReconcileTombstones enables the opt-in conflict extension: when a
	// conflict's serverRecord shows the entity was deleted server-side,
	// apply a local delete and drop the op instead of quarantining it.
	ReconcileTombstones bool
}

func (o Options) withDefaults() Options {
	if o.PushBatchSize <= 0 {
		o.PushBatchSize = 100
	}
	if o.PullLimit <= 0 {
		o.PullLimit = 200
	}
	if o.MaxPullPages <= 0 {
		o.MaxPullPages = 10
	}
	return o
}

// Engine drives the sync cycle. It owns the outbox, cursor and inbox in the
// local store exclusively; callers interact through QueueOperation and
// RunOnce only.
type Engine struct {
	mu       sync.Mutex // try-locked per cycle; guards the whole RunOnce body
	db       *db.DB
	client   *syncclient.Client
	tokens   TokenSource
	appliers map[string]Applier
	opts     Options
}

// New creates an engine over the local store, wire transport and token
// source.
func New(database *db.DB, client *syncclient.Client, tokens TokenSource, opts Options) *Engine {
	return &Engine{
		db:       database,
		client:   client,
		tokens:   tokens,
		appliers: defaultAppliers(),
		opts:     opts.withDefaults(),
	}
}

// QueuedOp describes a mutation to queue. OpID and ClientUpdatedAt are
// optional; a random idempotency key and the current time are used when
// absent.
type QueuedOp struct {
	Entity          string
	Action          Action
	Payload         any
	OpID            string
	ClientUpdatedAt time.Time
}

// QueueOperation durably enqueues a local mutation for the next push and
// returns its idempotency key. Re-queueing an existing caller-supplied
// OpID is a no-op returning the same key: the same opId never yields two
// outbox rows.
func (e *Engine) QueueOperation(op QueuedOp) (string, error) {
	if _, ok := e.appliers[op.Entity]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, op.Entity)
	}
	if !ValidAction(op.Action) {
		return "", fmt.Errorf("invalid action %q", op.Action)
	}

	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	opID := op.OpID
	if opID == "" {
		opID = uuid.NewString()
	}
	clientUpdatedAt := op.ClientUpdatedAt
	if clientUpdatedAt.IsZero() {
		clientUpdatedAt = time.Now()
	}

	err = e.db.EnqueueOp(db.Operation{
		OpID:            opID,
		Entity:          op.Entity,
		Action:          string(op.Action),
		PayloadJSON:     payload,
		ClientUpdatedAt: clientUpdatedAt,
	})
	if errors.Is(err, db.ErrDuplicateOp) && op.OpID != "" {
		return opID, nil
	}
	if err != nil {
		return "", err
	}
	return opID, nil
}

// RunOnce executes one push-then-pull cycle. It is non-reentrant: an
// overlapping call returns ErrSyncInFlight without touching the store.
//
// Transient transport and server errors abort the cycle and are returned;
// the next scheduled cycle retries naturally. Conflicts are recorded on
// their operations and counted, never returned as errors. An unusable
// session is reported via the result status without any sync network call.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	if !e.mu.TryLock() {
		return Result{}, ErrSyncInFlight
	}
	defer e.mu.Unlock()

	cursor, err := e.db.GetCursor()
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: StatusOK, Cursor: cursor}

	// Token step. Without a usable session no push/pull call is worth
	// issuing; the gateway has already given up on it.
	if _, err := e.tokens.Token(ctx); err != nil {
		slog.Debug("sync: no usable session", "err", err)
		res.Status = StatusUnauthenticated
		return res, nil
	}

	if err := e.push(ctx, &res); err != nil {
		return res, err
	}
	if err := e.pull(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}

// push sends one batch of eligible ops. No network call is made when the
// outbox has nothing eligible.
func (e *Engine) push(ctx context.Context, res *Result) error {
	ops, err := e.db.DequeueBatch(e.opts.PushBatchSize)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	inputs := make([]syncclient.OpInput, len(ops))
	for i, op := range ops {
		inputs[i] = syncclient.OpInput{
			OpID:            op.OpID,
			Entity:          op.Entity,
			Action:          op.Action,
			Payload:         json.RawMessage(op.PayloadJSON),
			ClientUpdatedAt: op.ClientUpdatedAt,
		}
	}

	resp, err := e.client.Push(ctx, inputs)
	if err != nil {
		// The push attempt mutated nothing locally; safe to retry next cycle.
		return fmt.Errorf("push: %w", err)
	}

	if err := e.db.DeleteByOpIDs(resp.AppliedOpIDs); err != nil {
		return err
	}
	res.Pushed = len(resp.AppliedOpIDs)
	res.Conflicts = len(resp.Conflicts)

	for _, c := range resp.Conflicts {
		if e.opts.ReconcileTombstones && recordDeleted(c.ServerRecord) {
			if err := e.reconcileTombstone(c); err == nil {
				continue
			} else {
				slog.Warn("sync: tombstone reconciliation failed, quarantining", "op", c.OpID, "err", err)
			}
		}
		// Quarantine: the op is never resent until an external actor clears
		// the reason, so a permanently divergent mutation cannot loop.
		if err := e.db.MarkConflict(c.OpID, c.Reason); err != nil {
			return err
		}
		slog.Info("sync: conflict", "op", c.OpID, "entity", c.Entity, "id", c.EntityID, "reason", c.Reason)
	}
	return nil
}

// reconcileTombstone applies the server's delete locally and drops the
// conflicting op instead of quarantining it.
func (e *Engine) reconcileTombstone(c syncclient.ConflictInfo) error {
	applier, ok := e.appliers[c.Entity]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntity, c.Entity)
	}
	tx, err := e.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := applier.Apply(tx, ActionDelete, c.EntityID, c.ServerRecord); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Info("sync: reconciled tombstone", "op", c.OpID, "entity", c.Entity, "id", c.EntityID)
	return e.db.DeleteByOpIDs([]string{c.OpID})
}

// pull fetches paginated remote changes starting at the persisted cursor,
// applying each page in one local transaction. The page budget bounds one
// cycle; remaining pages are picked up by the next.
func (e *Engine) pull(ctx context.Context, res *Result) error {
	cursor := res.Cursor
	for page := 0; page < e.opts.MaxPullPages; page++ {
		resp, err := e.client.Pull(ctx, cursor, e.opts.PullLimit)
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}

		if len(resp.Changes) == 0 {
			if resp.NextVersion > cursor {
				if err := e.db.SetCursor(resp.NextVersion); err != nil {
					return err
				}
				res.Cursor = resp.NextVersion
			}
			return nil
		}

		if err := e.applyPage(resp); err != nil {
			// Transaction rolled back, cursor untouched; the page is retried
			// by a later cycle. Idempotent appliers make the retry safe.
			return err
		}
		cursor = resp.NextVersion
		res.Cursor = cursor
		res.Pulled += len(resp.Changes)

		if !resp.HasMore {
			return nil
		}
	}
	return nil
}

// applyPage applies every change of one pull page and advances the cursor
// inside a single transaction, so "changes applied" and "cursor advanced"
// commit atomically.
func (e *Engine) applyPage(resp *syncclient.PullResponse) error {
	tx, err := e.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range resp.Changes {
		applier, ok := e.appliers[ch.Entity]
		if !ok {
			return fmt.Errorf("%w: %q (version %d)", ErrUnknownEntity, ch.Entity, ch.Version)
		}
		if err := applier.Apply(tx, Action(ch.Action), ch.EntityID, ch.Payload); err != nil {
			return fmt.Errorf("apply change %d: %w", ch.Version, err)
		}
		if err := db.AppendInboxTx(tx, db.InboxEntry{
			Version:     ch.Version,
			Entity:      ch.Entity,
			EntityID:    ch.EntityID,
			Action:      ch.Action,
			PayloadJSON: ch.Payload,
			UpdatedAt:   ch.UpdatedAt,
		}); err != nil {
			return err
		}
	}

	if err := db.SetCursorTx(tx, resp.NextVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit page: %w", err)
	}
	return nil
}
