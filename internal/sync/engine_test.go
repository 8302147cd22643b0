package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marin/crate/internal/db"
	"github.com/marin/crate/internal/models"
	"github.com/marin/crate/internal/syncclient"
)

// staticTokens is a TokenSource yielding a fixed token or error.
type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

// fakeServer scripts push and pull responses and records requests.
type fakeServer struct {
	mu        sync.Mutex
	pushes    []syncclient.PushRequest
	pullCalls int

	pushResponse func(req syncclient.PushRequest) syncclient.PushResponse
	pullResponse func(since int64, limit int) syncclient.PullResponse
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req syncclient.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pushes = append(f.pushes, req)
		fn := f.pushResponse
		f.mu.Unlock()

		resp := syncclient.PushResponse{AppliedOpIDs: []string{}, Conflicts: []syncclient.ConflictInfo{}}
		if fn != nil {
			resp = fn(req)
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pullCalls++
		fn := f.pullResponse
		f.mu.Unlock()

		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		resp := syncclient.PullResponse{Changes: []syncclient.Change{}, NextVersion: since}
		if fn != nil {
			resp = fn(since, limit)
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func (f *fakeServer) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeServer) lastPush() syncclient.PushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

// ackAll acks every pushed op.
func ackAll(req syncclient.PushRequest) syncclient.PushResponse {
	ids := make([]string, len(req.Ops))
	for i, op := range req.Ops {
		ids[i] = op.OpID
	}
	return syncclient.PushResponse{AppliedOpIDs: ids, Conflicts: []syncclient.ConflictInfo{}}
}

func newTestEngine(t *testing.T, fs *fakeServer, opts Options) (*Engine, *db.DB) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)

	client := syncclient.New(srv.URL, "device-1", srv.Client())
	engine := New(database, client, staticTokens{token: "tok"}, opts)
	return engine, database
}

func releasePayload(id string) *ReleasePayload {
	now := time.Now()
	return &ReleasePayload{
		ID: id, Artist: "Artist", Title: "Title",
		Format: models.FormatLP, Status: models.StatusBacklog,
		CreatedAt: now, UpdatedAt: now,
	}
}

func mustQueue(t *testing.T, e *Engine, op QueuedOp) string {
	t.Helper()
	id, err := e.QueueOperation(op)
	if err != nil {
		t.Fatalf("QueueOperation failed: %v", err)
	}
	return id
}

func TestQueueOperationGeneratesOpID(t *testing.T) {
	fs := &fakeServer{}
	engine, database := newTestEngine(t, fs, Options{})

	id := mustQueue(t, engine, QueuedOp{
		Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-1"),
	})
	if id == "" {
		t.Fatal("expected generated op id")
	}
	has, err := database.HasOp(id)
	if err != nil || !has {
		t.Fatalf("queued op not in outbox: has=%v err=%v", has, err)
	}
}

func TestQueueOperationDuplicateSuppliedIDIsNoOp(t *testing.T) {
	fs := &fakeServer{}
	engine, database := newTestEngine(t, fs, Options{})

	op := QueuedOp{
		Entity: EntityRelease, Action: ActionUpsert,
		Payload: releasePayload("rl-1"), OpID: "op-fixed",
	}
	id1 := mustQueue(t, engine, op)
	id2 := mustQueue(t, engine, op)
	if id1 != "op-fixed" || id2 != "op-fixed" {
		t.Fatalf("expected stable op id, got %q, %q", id1, id2)
	}

	pending, _ := database.CountPending()
	if pending != 1 {
		t.Fatalf("duplicate queue created a second row: %d", pending)
	}
}

func TestQueueOperationRejectsUnknownEntity(t *testing.T) {
	fs := &fakeServer{}
	engine, _ := newTestEngine(t, fs, Options{})

	_, err := engine.QueueOperation(QueuedOp{
		Entity: "playlist", Action: ActionUpsert, Payload: map[string]string{"id": "x"},
	})
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestRunOncePushAcksEmptyOutbox(t *testing.T) {
	fs := &fakeServer{pushResponse: ackAll}
	engine, database := newTestEngine(t, fs, Options{})

	mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-1")})
	mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-2")})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Status != StatusOK || res.Pushed != 2 || res.Conflicts != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	pending, _ := database.CountPending()
	if pending != 0 {
		t.Fatalf("outbox not emptied after ack: %d pending", pending)
	}

	push := fs.lastPush()
	if push.DeviceID != "device-1" || len(push.Ops) != 2 {
		t.Fatalf("unexpected push request: %+v", push)
	}
}

func TestRunOnceSkipsPushWhenOutboxEmpty(t *testing.T) {
	fs := &fakeServer{}
	engine, _ := newTestEngine(t, fs, Options{})

	if _, err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if fs.pushCount() != 0 {
		t.Fatalf("push sent with empty outbox: %d requests", fs.pushCount())
	}
}

func TestRunOncePullsTwoPagesAndAdvancesCursor(t *testing.T) {
	page1 := []syncclient.Change{
		change(1, "rl-1"),
		change(2, "rl-2"),
	}
	page2 := []syncclient.Change{
		change(3, "rl-3"),
	}
	fs := &fakeServer{
		pullResponse: func(since int64, limit int) syncclient.PullResponse {
			switch since {
			case 0:
				return syncclient.PullResponse{Changes: page1, NextVersion: 2, HasMore: true}
			case 2:
				return syncclient.PullResponse{Changes: page2, NextVersion: 3, HasMore: false}
			}
			return syncclient.PullResponse{Changes: []syncclient.Change{}, NextVersion: since}
		},
	}
	engine, database := newTestEngine(t, fs, Options{})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Pulled != 3 || res.Cursor != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	cursor, _ := database.GetCursor()
	if cursor != 3 {
		t.Fatalf("cursor not persisted: %d", cursor)
	}

	for _, id := range []string{"rl-1", "rl-2", "rl-3"} {
		r, err := database.GetRelease(id)
		if err != nil || r == nil {
			t.Fatalf("pulled release %s missing: %v", id, err)
		}
	}

	inbox, _ := database.ListInbox(0, 10)
	if len(inbox) != 3 {
		t.Fatalf("expected 3 inbox entries, got %d", len(inbox))
	}
}

func change(version int64, id string) syncclient.Change {
	payload, _ := json.Marshal(releasePayload(id))
	return syncclient.Change{
		Version: version, Entity: EntityRelease, EntityID: id,
		Action: string(ActionUpsert), Payload: payload, UpdatedAt: time.Now(),
	}
}

func deleteChange(version int64, id string) syncclient.Change {
	payload, _ := json.Marshal(DeletePayload{ID: id})
	return syncclient.Change{
		Version: version, Entity: EntityRelease, EntityID: id,
		Action: string(ActionDelete), Payload: payload, UpdatedAt: time.Now(),
	}
}

func TestRunOnceAppliesRemoteDelete(t *testing.T) {
	fs := &fakeServer{
		pullResponse: func(since int64, limit int) syncclient.PullResponse {
			if since == 0 {
				return syncclient.PullResponse{
					Changes:     []syncclient.Change{change(1, "rl-1"), deleteChange(2, "rl-1")},
					NextVersion: 2,
				}
			}
			return syncclient.PullResponse{Changes: []syncclient.Change{}, NextVersion: since}
		},
	}
	engine, database := newTestEngine(t, fs, Options{})

	if _, err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	r, err := database.GetRelease("rl-1")
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if r != nil {
		t.Fatal("remote delete not applied")
	}
}

func TestRunOnceConflictQuarantinesOp(t *testing.T) {
	fs := &fakeServer{
		pushResponse: func(req syncclient.PushRequest) syncclient.PushResponse {
			// First op conflicts, the rest apply.
			resp := syncclient.PushResponse{AppliedOpIDs: []string{}, Conflicts: []syncclient.ConflictInfo{}}
			for i, op := range req.Ops {
				if i == 0 {
					resp.Conflicts = append(resp.Conflicts, syncclient.ConflictInfo{
						OpID: op.OpID, Entity: op.Entity, EntityID: "rl-1",
						Reason: ReasonVersionConflict, ServerVersion: 9,
					})
					continue
				}
				resp.AppliedOpIDs = append(resp.AppliedOpIDs, op.OpID)
			}
			return resp
		},
	}
	engine, database := newTestEngine(t, fs, Options{})

	conflicted := mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-1")})
	mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-2")})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Pushed != 1 || res.Conflicts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	quarantined, _ := database.ListQuarantined()
	if len(quarantined) != 1 || quarantined[0].OpID != conflicted {
		t.Fatalf("conflicted op not quarantined: %+v", quarantined)
	}
	if quarantined[0].LastError == nil || *quarantined[0].LastError != ReasonVersionConflict {
		t.Fatalf("reason not recorded: %+v", quarantined[0])
	}

	// A second cycle must not resend the quarantined op.
	if _, err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if fs.pushCount() != 1 {
		t.Fatalf("quarantined op resent: %d pushes", fs.pushCount())
	}
}

func TestRunOnceUnauthenticatedShortCircuits(t *testing.T) {
	fs := &fakeServer{}
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()

	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	client := syncclient.New(srv.URL, "device-1", srv.Client())
	engine := New(database, client, staticTokens{err: errors.New("no usable session")}, Options{})

	mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: releasePayload("rl-1")})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Status != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated status, got %+v", res)
	}
	if fs.pushCount() != 0 || fs.pullCalls != 0 {
		t.Fatal("sync calls issued without a session")
	}

	// The queued op survives for a later cycle.
	pending, _ := database.CountPending()
	if pending != 1 {
		t.Fatalf("outbox drained while unauthenticated: %d", pending)
	}
}

func TestRunOnceRespectsMaxPullPagesAndResumes(t *testing.T) {
	fs := &fakeServer{
		pullResponse: func(since int64, limit int) syncclient.PullResponse {
			switch since {
			case 0:
				return syncclient.PullResponse{Changes: []syncclient.Change{change(1, "rl-1")}, NextVersion: 1, HasMore: true}
			case 1:
				return syncclient.PullResponse{Changes: []syncclient.Change{change(2, "rl-2")}, NextVersion: 2, HasMore: false}
			}
			return syncclient.PullResponse{Changes: []syncclient.Change{}, NextVersion: since}
		},
	}
	engine, database := newTestEngine(t, fs, Options{MaxPullPages: 1})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Pulled != 1 || res.Cursor != 1 {
		t.Fatalf("first cycle: %+v", res)
	}

	res, err = engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if res.Pulled != 1 || res.Cursor != 2 {
		t.Fatalf("second cycle: %+v", res)
	}

	cursor, _ := database.GetCursor()
	if cursor != 2 {
		t.Fatalf("cursor after resume: %d", cursor)
	}
}

func TestRunOnceEmptyPagePersistsAdvancedCursor(t *testing.T) {
	fs := &fakeServer{
		pullResponse: func(since int64, limit int) syncclient.PullResponse {
			// Log compaction case: no changes but the head moved.
			return syncclient.PullResponse{Changes: []syncclient.Change{}, NextVersion: 5}
		},
	}
	engine, database := newTestEngine(t, fs, Options{})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Cursor != 5 {
		t.Fatalf("cursor not fast-forwarded: %+v", res)
	}
	cursor, _ := database.GetCursor()
	if cursor != 5 {
		t.Fatalf("cursor not persisted: %d", cursor)
	}
}

func TestRunOnceMalformedPayloadRollsBackWholePage(t *testing.T) {
	bad := releasePayload("rl-2")
	bad.Artist = ""
	badJSON, _ := json.Marshal(bad)

	fs := &fakeServer{
		pullResponse: func(since int64, limit int) syncclient.PullResponse {
			return syncclient.PullResponse{
				Changes: []syncclient.Change{
					change(1, "rl-1"),
					{
						Version: 2, Entity: EntityRelease, EntityID: "rl-2",
						Action: string(ActionUpsert), Payload: badJSON, UpdatedAt: time.Now(),
					},
				},
				NextVersion: 2,
			}
		},
	}
	engine, database := newTestEngine(t, fs, Options{})

	_, err := engine.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error from malformed payload")
	}

	// The page transaction rolled back: the valid change before the bad one
	// is gone too, the inbox is empty and the cursor did not move.
	cursor, _ := database.GetCursor()
	if cursor != 0 {
		t.Fatalf("cursor advanced past a failed page: %d", cursor)
	}
	r, err := database.GetRelease("rl-1")
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if r != nil {
		t.Fatal("change from the failed page was applied")
	}
	inbox, _ := database.ListInbox(0, 10)
	if len(inbox) != 0 {
		t.Fatalf("inbox recorded changes from a rolled-back page: %d entries", len(inbox))
	}
}

func TestRunOnceIsNonReentrant(t *testing.T) {
	fs := &fakeServer{}
	engine, _ := newTestEngine(t, fs, Options{})

	engine.mu.Lock()
	defer engine.mu.Unlock()

	_, err := engine.RunOnce(context.Background())
	if !errors.Is(err, ErrSyncInFlight) {
		t.Fatalf("expected ErrSyncInFlight, got %v", err)
	}
}

func TestTombstoneReconciliationDropsOpAndDeletesLocally(t *testing.T) {
	deletedAt := time.Now()
	fs := &fakeServer{
		pushResponse: func(req syncclient.PushRequest) syncclient.PushResponse {
			record, _ := json.Marshal(map[string]any{"id": "rl-1", "deleted": true, "deletedAt": deletedAt})
			return syncclient.PushResponse{
				AppliedOpIDs: []string{},
				Conflicts: []syncclient.ConflictInfo{{
					OpID: req.Ops[0].OpID, Entity: EntityRelease, EntityID: "rl-1",
					Reason: ReasonVersionConflict, ServerVersion: 4, ServerRecord: record,
				}},
			}
		},
	}
	engine, database := newTestEngine(t, fs, Options{ReconcileTombstones: true})

	// Local copy exists and the user edited it after the server deleted it.
	r := &models.Release{ID: "rl-1", Artist: "Artist", Title: "Title", Format: models.FormatLP, Status: models.StatusBacklog}
	if err := database.CreateRelease(r); err != nil {
		t.Fatalf("CreateRelease failed: %v", err)
	}
	mustQueue(t, engine, QueuedOp{Entity: EntityRelease, Action: ActionUpsert, Payload: ReleaseToPayload(r)})

	res, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Conflicts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, err := database.GetRelease("rl-1")
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if got != nil {
		t.Fatal("tombstone not applied locally")
	}

	pending, _ := database.CountPending()
	quarantined, _ := database.CountQuarantined()
	if pending != 0 || quarantined != 0 {
		t.Fatalf("reconciled op still in outbox: pending=%d quarantined=%d", pending, quarantined)
	}
}
