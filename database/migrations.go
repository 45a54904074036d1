// lanclip/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Lease sweeps scan by expiry
CREATE INDEX IF NOT EXISTS idx_boards_expires_at ON boards(expires_at);
CREATE INDEX IF NOT EXISTS idx_board_keys_expires_at ON board_keys(expires_at);
		`,
	},
	{
		Version: 2,
		Query: `
-- Image locators are pulled out of the payload for reconciliation and purges
ALTER TABLE entries ADD COLUMN image_path TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_entries_image_path ON entries(image_path) WHERE image_path != '';
		`,
	},
}
