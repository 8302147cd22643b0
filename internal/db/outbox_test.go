package db

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testOp(opID, entityID string) Operation {
	return Operation{
		OpID:            opID,
		Entity:          "release",
		Action:          "upsert",
		PayloadJSON:     []byte(fmt.Sprintf(`{"id":%q,"artist":"a","title":"t"}`, entityID)),
		ClientUpdatedAt: time.Now(),
	}
}

func TestEnqueueAndDequeueFIFO(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 3; i++ {
		if err := db.EnqueueOp(testOp(fmt.Sprintf("op-%d", i), fmt.Sprintf("rl-%d", i))); err != nil {
			t.Fatalf("EnqueueOp failed: %v", err)
		}
	}

	ops, err := db.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	for i, op := range ops {
		if want := fmt.Sprintf("op-%d", i); op.OpID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, op.OpID)
		}
	}
}

func TestDequeueBatchRespectsLimit(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 5; i++ {
		if err := db.EnqueueOp(testOp(fmt.Sprintf("op-%d", i), fmt.Sprintf("rl-%d", i))); err != nil {
			t.Fatalf("EnqueueOp failed: %v", err)
		}
	}

	ops, err := db.DequeueBatch(2)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(ops))
	}
	if ops[0].OpID != "op-0" || ops[1].OpID != "op-1" {
		t.Errorf("expected oldest two ops, got %s, %s", ops[0].OpID, ops[1].OpID)
	}
}

func TestEnqueueDuplicateOpID(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueOp(testOp("op-1", "rl-1")); err != nil {
		t.Fatalf("first EnqueueOp failed: %v", err)
	}
	err := db.EnqueueOp(testOp("op-1", "rl-1"))
	if !errors.Is(err, ErrDuplicateOp) {
		t.Fatalf("expected ErrDuplicateOp, got %v", err)
	}

	ops, err := db.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("duplicate op created a second row: %d rows", len(ops))
	}
}

func TestEnqueueRejectsMissingEntityID(t *testing.T) {
	db := testDB(t)

	op := testOp("op-1", "rl-1")
	op.PayloadJSON = []byte(`{"artist":"a"}`)
	if err := db.EnqueueOp(op); !errors.Is(err, ErrMissingEntityID) {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
}

func TestQuarantineExcludedFromDequeue(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueOp(testOp("op-1", "rl-1")); err != nil {
		t.Fatalf("EnqueueOp failed: %v", err)
	}
	if err := db.EnqueueOp(testOp("op-2", "rl-2")); err != nil {
		t.Fatalf("EnqueueOp failed: %v", err)
	}

	if err := db.MarkConflict("op-1", "version_conflict"); err != nil {
		t.Fatalf("MarkConflict failed: %v", err)
	}

	ops, err := db.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(ops) != 1 || ops[0].OpID != "op-2" {
		t.Fatalf("expected only op-2 eligible, got %v", ops)
	}

	quarantined, err := db.ListQuarantined()
	if err != nil {
		t.Fatalf("ListQuarantined failed: %v", err)
	}
	if len(quarantined) != 1 {
		t.Fatalf("expected 1 quarantined op, got %d", len(quarantined))
	}
	q := quarantined[0]
	if q.OpID != "op-1" || q.Attempts != 1 || q.LastError == nil || *q.LastError != "version_conflict" {
		t.Errorf("unexpected quarantined op: %+v", q)
	}
}

func TestClearConflictMakesOpEligibleAgain(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueOp(testOp("op-1", "rl-1")); err != nil {
		t.Fatalf("EnqueueOp failed: %v", err)
	}
	if err := db.MarkConflict("op-1", "not_found"); err != nil {
		t.Fatalf("MarkConflict failed: %v", err)
	}

	n, err := db.ClearConflict("op-1")
	if err != nil {
		t.Fatalf("ClearConflict failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row cleared, got %d", n)
	}

	ops, err := db.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(ops) != 1 || ops[0].OpID != "op-1" {
		t.Fatalf("cleared op not eligible: %v", ops)
	}
	// Attempts survive the clear for visibility.
	if ops[0].Attempts != 1 {
		t.Errorf("expected attempts=1 after clear, got %d", ops[0].Attempts)
	}
}

func TestClearConflictUnknownOp(t *testing.T) {
	db := testDB(t)

	n, err := db.ClearConflict("nope")
	if err != nil {
		t.Fatalf("ClearConflict failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows for unknown op, got %d", n)
	}
}

func TestDeleteByOpIDsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueOp(testOp("op-1", "rl-1")); err != nil {
		t.Fatalf("EnqueueOp failed: %v", err)
	}
	if err := db.EnqueueOp(testOp("op-2", "rl-2")); err != nil {
		t.Fatalf("EnqueueOp failed: %v", err)
	}

	if err := db.DeleteByOpIDs([]string{"op-1", "op-unknown"}); err != nil {
		t.Fatalf("DeleteByOpIDs failed: %v", err)
	}
	// Deleting the same set again is a no-op.
	if err := db.DeleteByOpIDs([]string{"op-1", "op-unknown"}); err != nil {
		t.Fatalf("second DeleteByOpIDs failed: %v", err)
	}
	if err := db.DeleteByOpIDs(nil); err != nil {
		t.Fatalf("empty DeleteByOpIDs failed: %v", err)
	}

	pending, err := db.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending op, got %d", pending)
	}
}

func TestCounts(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 3; i++ {
		if err := db.EnqueueOp(testOp(fmt.Sprintf("op-%d", i), fmt.Sprintf("rl-%d", i))); err != nil {
			t.Fatalf("EnqueueOp failed: %v", err)
		}
	}
	if err := db.MarkConflict("op-0", "forbidden"); err != nil {
		t.Fatalf("MarkConflict failed: %v", err)
	}

	pending, _ := db.CountPending()
	quarantined, _ := db.CountQuarantined()
	if pending != 2 || quarantined != 1 {
		t.Fatalf("expected 2 pending / 1 quarantined, got %d / %d", pending, quarantined)
	}
}
