package db

import (
	"database/sql"
	"fmt"
	"strconv"
)

// GetSchemaVersion returns the schema version recorded in the database.
func (db *DB) GetSchemaVersion() (int, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	v, _ := strconv.Atoi(value)
	return v, nil
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	return err
}

// columnExists checks whether a column exists on a table.
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// RunMigrations creates any missing tables and applies pending migrations.
func (db *DB) RunMigrations() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	current, _ := db.GetSchemaVersion()
	if current >= SchemaVersion {
		return nil
	}

	if current < 2 {
		// v2: source_url column on releases (pre-existing DBs created before
		// scraped metadata landed)
		exists, err := db.columnExists("releases", "source_url")
		if err != nil {
			return fmt.Errorf("check source_url column: %w", err)
		}
		if !exists {
			if _, err := db.conn.Exec(`ALTER TABLE releases ADD COLUMN source_url TEXT NOT NULL DEFAULT ''`); err != nil {
				return fmt.Errorf("add source_url column: %w", err)
			}
		}
	}

	return db.setSchemaVersion(SchemaVersion)
}
