package db

// SchemaVersion is the current local database schema version.
const SchemaVersion = 2

const schema = `
-- Releases table
CREATE TABLE IF NOT EXISTS releases (
    id TEXT PRIMARY KEY,
    artist TEXT NOT NULL,
    title TEXT NOT NULL,
    release_date TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT 'lp',
    status TEXT NOT NULL DEFAULT 'backlog',
    rating INTEGER NOT NULL DEFAULT 0,
    source_url TEXT NOT NULL DEFAULT '',
    listened_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

-- Listening notes table
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    release_id TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

-- Outbox: local mutations not yet acknowledged by the server
CREATE TABLE IF NOT EXISTS sync_outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    op_id TEXT NOT NULL UNIQUE,
    entity TEXT NOT NULL,
    action TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    client_updated_at DATETIME NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Sync engine scalar state (cursor lives here under key 'cursor')
CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Inbox: append-only log of remote changes already applied locally
CREATE TABLE IF NOT EXISTS sync_inbox (
    version INTEGER PRIMARY KEY,
    entity TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_releases_status ON releases(status);
CREATE INDEX IF NOT EXISTS idx_notes_release ON notes(release_id);
CREATE INDEX IF NOT EXISTS idx_outbox_eligible ON sync_outbox(id) WHERE last_error IS NULL;
`
