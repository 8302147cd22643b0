package db

import "testing"

func TestFreshDatabaseIsAtCurrentSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, v)
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}
	v, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, v)
	}
}

func TestSourceURLColumnExists(t *testing.T) {
	db := testDB(t)

	ok, err := db.columnExists("releases", "source_url")
	if err != nil {
		t.Fatalf("columnExists failed: %v", err)
	}
	if !ok {
		t.Fatal("expected source_url column after migrations")
	}
}
