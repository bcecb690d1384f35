// Package storage provides the central SQLite database for the orchestration
// core. A single ada.db file holds tasks, instructions, sync cursors,
// conversations and the ambiguity parking lot. The vector index lives in its
// own chromem-backed store (see internal/rag).
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// TimeFormat is the fixed-width timestamp layout used in every table.
// Unlike RFC3339Nano it never trims trailing zeros, so lexicographic ORDER BY
// on timestamp columns matches chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Multi-step workflow records, mutated only through state transitions.
CREATE TABLE IF NOT EXISTS tasks (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    description     TEXT NOT NULL,
    status          TEXT NOT NULL,
    context         TEXT NOT NULL DEFAULT '{}',
    conversation_id TEXT DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    completed_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_conversation ON tasks(conversation_id);

-- Standing natural-language instructions. Text is immutable; rows are
-- deactivated, never edited, to preserve the audit trail.
CREATE TABLE IF NOT EXISTS instructions (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    instruction TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instructions_tenant ON instructions(tenant_id, active);

-- Per (tenant, channel) incremental-sync watermarks. Advanced only after a
-- batch is fully processed, so a crash re-processes instead of losing items.
CREATE TABLE IF NOT EXISTS sync_cursors (
    tenant_id  TEXT NOT NULL,
    channel    TEXT NOT NULL,
    cursor     TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, channel)
);

-- Inbound events that matched more than one waiting task. Parked here for
-- operator resolution instead of being silently resolved or dropped.
CREATE TABLE IF NOT EXISTS ambiguous_events (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    channel         TEXT NOT NULL,
    event_id        TEXT NOT NULL,
    sender_identity TEXT NOT NULL DEFAULT '',
    subject         TEXT NOT NULL DEFAULT '',
    candidate_ids   TEXT NOT NULL DEFAULT '[]',
    observed_at     TEXT NOT NULL,
    recorded_at     TEXT NOT NULL,
    resolved        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ambiguous_tenant ON ambiguous_events(tenant_id, resolved);

-- Known tenants; the poller iterates this directory each cycle.
CREATE TABLE IF NOT EXISTS tenants (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);

-- Direct-mode conversation history feeding the bounded recent window.
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// Open opens (creating if necessary) the central database at dbPath and
// applies the schema. The busy timeout keeps concurrent tenant workers from
// failing fast on short-lived write locks.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}
