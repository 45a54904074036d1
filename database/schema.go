// lanclip/database/schema.go
package database

// Timestamps are stored as unix microseconds so ordering and lease checks are
// plain integer comparisons.
const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
-- A board exists while its lease is live. Inserting refreshes the lease.
CREATE TABLE IF NOT EXISTS boards (
	slug TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT, -- arrival order, breaks created_at ties
	id TEXT NOT NULL,
	board_slug TEXT NOT NULL,
	payload TEXT NOT NULL, -- JSON encoded entry
	created_at INTEGER NOT NULL,
	FOREIGN KEY (board_slug) REFERENCES boards(slug) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS board_keys (
	slug TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

-- --- INDEXES ---
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_board_id ON entries(board_slug, id);
CREATE INDEX IF NOT EXISTS idx_entries_board_order ON entries(board_slug, created_at DESC, seq DESC);
`
