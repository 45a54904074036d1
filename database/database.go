// lanclip/database/database.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"lanclip/models"
	"lanclip/utils"
)

// DatabaseService is the SQLite entry store and key store. Board expiry is
// modelled with a lease on the boards table: reads ignore expired boards and
// PurgeExpired deletes them.
type DatabaseService struct {
	DB         *sql.DB
	logger     *slog.Logger
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// InitDB connects to the database and runs migrations. The pool is limited to
// one connection so every write transaction is serialized.
func InitDB(dataSourceName string, maxEntries int, ttl time.Duration, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, models.ErrUnavailable.Wrap(fmt.Errorf("failed to open database: %w", err))
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	// Run versioned migrations
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("Database initialized.", "max_entries", maxEntries, "ttl", ttl.String())

	return &DatabaseService{
		DB:         db,
		logger:     logger.With("component", "database"),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        utils.GetTime,
	}, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}

// Ping reports whether the database file is usable.
func (ds *DatabaseService) Ping(ctx context.Context) error {
	return unavailable("ping", ds.DB.PingContext(ctx))
}

// Close closes the database handle.
func (ds *DatabaseService) Close() error {
	return ds.DB.Close()
}

// unavailable tags a driver failure. Context errors pass through unchanged.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
}

// rollback is deferred after every Begin; it is a no-op once committed.
func (ds *DatabaseService) rollback(tx *sql.Tx) {
	if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
		ds.logger.Error("Failed to rollback transaction", "error", rerr)
	}
}

func decodePayload(payload string) (models.Entry, error) {
	var entry models.Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return models.Entry{}, models.ErrCorrupt.Wrap(err)
	}
	if err := entry.Validate(); err != nil {
		return models.Entry{}, models.ErrCorrupt.Wrap(err)
	}
	return entry, nil
}

// collectEntries drains rows of (seq, payload), returning the decoded entries
// and the seq of every row, corrupt ones included.
func (ds *DatabaseService) collectEntries(rows *sql.Rows, slug string) ([]models.Entry, []int64, error) {
	defer rows.Close()
	var entries []models.Entry
	var seqs []int64
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, nil, err
		}
		seqs = append(seqs, seq)
		entry, err := decodePayload(payload)
		if err != nil {
			ds.logger.Warn("Skipping malformed entry", "board", slug, "seq", seq, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, seqs, rows.Err()
}

func deleteSeqs(ctx context.Context, tx *sql.Tx, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]interface{}, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	_, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE seq IN ("+placeholders+")", args...)
	return err
}

// Insert adds the entry, drops everything beyond the newest maxEntries and
// renews the board lease inside one write transaction. Entries of a board
// whose lease had already run out are dropped first and returned with the
// trimmed ones.
func (ds *DatabaseService) Insert(ctx context.Context, slug string, entry models.Entry) ([]models.Entry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	now := ds.now()

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin insert", err)
	}
	defer ds.rollback(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT e.seq, e.payload FROM entries e JOIN boards b ON b.slug = e.board_slug
		WHERE e.board_slug = ? AND b.expires_at <= ?`, slug, now.UnixMicro())
	if err != nil {
		return nil, unavailable("find lapsed entries", err)
	}
	evicted, lapsed, err := ds.collectEntries(rows, slug)
	if err != nil {
		return nil, unavailable("read lapsed entries", err)
	}
	if err := deleteSeqs(ctx, tx, lapsed); err != nil {
		return nil, unavailable("drop lapsed entries", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (slug, expires_at) VALUES (?, ?)
		ON CONFLICT(slug) DO UPDATE SET expires_at = excluded.expires_at`,
		slug, now.Add(ds.ttl).UnixMicro()); err != nil {
		return nil, unavailable("renew board lease", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entries (id, board_slug, payload, created_at, image_path) VALUES (?, ?, ?, ?, ?)",
		entry.ID, slug, string(payload), entry.CreatedAt.UnixMicro(), entry.ImagePath); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, models.ErrInvalid.New("entry %s already exists on board %s", entry.ID, slug)
		}
		return nil, unavailable("insert entry", err)
	}

	// LIMIT -1 OFFSET n selects every row past the newest n.
	rows, err = tx.QueryContext(ctx, `
		SELECT seq, payload FROM entries WHERE board_slug = ?
		ORDER BY created_at DESC, seq DESC LIMIT -1 OFFSET ?`, slug, ds.maxEntries)
	if err != nil {
		return nil, unavailable("find trimmed entries", err)
	}
	trimmed, seqs, err := ds.collectEntries(rows, slug)
	if err != nil {
		return nil, unavailable("read trimmed entries", err)
	}
	if err := deleteSeqs(ctx, tx, seqs); err != nil {
		return nil, unavailable("trim board", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit insert", err)
	}
	return append(evicted, trimmed...), nil
}

// List returns the board's entries newest first. Corrupt records are skipped.
func (ds *DatabaseService) List(ctx context.Context, slug string) ([]models.Entry, error) {
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT e.seq, e.payload FROM entries e JOIN boards b ON b.slug = e.board_slug
		WHERE e.board_slug = ? AND b.expires_at > ?
		ORDER BY e.created_at DESC, e.seq DESC`, slug, ds.now().UnixMicro())
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	entries, _, err := ds.collectEntries(rows, slug)
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

// findRow locates a live entry by id. q is the database or an open transaction.
func (ds *DatabaseService) findRow(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, slug, id string) (int64, string, error) {
	var seq int64
	var payload string
	err := q.QueryRowContext(ctx, `
		SELECT e.seq, e.payload FROM entries e JOIN boards b ON b.slug = e.board_slug
		WHERE e.board_slug = ? AND e.id = ? AND b.expires_at > ?`,
		slug, id, ds.now().UnixMicro()).Scan(&seq, &payload)
	if err == sql.ErrNoRows {
		return 0, "", models.ErrNotFound.New("entry %s on board %s", id, slug)
	}
	if err != nil {
		return 0, "", unavailable("find entry", err)
	}
	return seq, payload, nil
}

func (ds *DatabaseService) Find(ctx context.Context, slug, id string) (models.Entry, error) {
	_, payload, err := ds.findRow(ctx, ds.DB, slug, id)
	if err != nil {
		return models.Entry{}, err
	}
	entry, err := decodePayload(payload)
	if err != nil {
		ds.logger.Warn("Skipping malformed entry", "board", slug, "id", id, "error", err)
		return models.Entry{}, models.ErrNotFound.New("entry %s on board %s", id, slug)
	}
	return entry, nil
}

// Remove deletes the entry and returns it so the caller can release its asset.
func (ds *DatabaseService) Remove(ctx context.Context, slug, id string) (models.Entry, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Entry{}, unavailable("begin remove", err)
	}
	defer ds.rollback(tx)

	seq, payload, err := ds.findRow(ctx, tx, slug, id)
	if err != nil {
		return models.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE seq = ?", seq); err != nil {
		return models.Entry{}, unavailable("remove entry", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Entry{}, unavailable("commit remove", err)
	}

	entry, err := decodePayload(payload)
	if err != nil {
		// the row is gone either way; hand back what we know
		ds.logger.Warn("Removed a malformed entry", "board", slug, "id", id, "error", err)
		return models.Entry{ID: id}, nil
	}
	return entry, nil
}

// ListBoards returns every live board with at least one entry, most recently
// active first.
func (ds *DatabaseService) ListBoards(ctx context.Context) ([]models.BoardSummary, error) {
	now := ds.now().UnixMicro()
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT b.slug, COUNT(e.seq), MAX(e.created_at),
			EXISTS (SELECT 1 FROM board_keys k WHERE k.slug = b.slug AND k.expires_at > ?)
		FROM boards b JOIN entries e ON e.board_slug = b.slug
		WHERE b.expires_at > ?
		GROUP BY b.slug`, now, now)
	if err != nil {
		return nil, unavailable("list boards", err)
	}
	defer rows.Close()

	boards := []models.BoardSummary{}
	for rows.Next() {
		var summary models.BoardSummary
		var last sql.NullInt64
		if err := rows.Scan(&summary.Slug, &summary.EntryCount, &last, &summary.HasKey); err != nil {
			return nil, unavailable("scan board", err)
		}
		if last.Valid && last.Int64 > 0 {
			t := time.UnixMicro(last.Int64).UTC()
			summary.LastActivity = &t
		}
		boards = append(boards, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list boards", err)
	}

	models.SortBoards(boards)
	return boards, nil
}

// ReferencedLocators collects the image locators of every live entry.
func (ds *DatabaseService) ReferencedLocators(ctx context.Context) (map[string]struct{}, error) {
	rows, err := ds.DB.QueryContext(ctx, `
		SELECT DISTINCT e.image_path FROM entries e JOIN boards b ON b.slug = e.board_slug
		WHERE e.image_path != '' AND b.expires_at > ?`, ds.now().UnixMicro())
	if err != nil {
		return nil, unavailable("collect locators", err)
	}
	defer rows.Close()

	referenced := make(map[string]struct{})
	for rows.Next() {
		var locator string
		if err := rows.Scan(&locator); err != nil {
			return nil, unavailable("scan locator", err)
		}
		referenced[locator] = struct{}{}
	}
	return referenced, unavailable("collect locators", rows.Err())
}

// PurgeExpired deletes every board whose lease has run out, together with its
// entries, and every expired access key. It returns the image locators the
// purged entries referenced.
func (ds *DatabaseService) PurgeExpired(ctx context.Context) ([]string, error) {
	now := ds.now().UnixMicro()

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin purge", err)
	}
	defer ds.rollback(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT e.image_path FROM entries e JOIN boards b ON b.slug = e.board_slug
		WHERE e.image_path != '' AND b.expires_at <= ?`, now)
	if err != nil {
		return nil, unavailable("find expired images", err)
	}
	var locators []string
	for rows.Next() {
		var locator string
		if err := rows.Scan(&locator); err != nil {
			rows.Close()
			return nil, unavailable("scan expired image", err)
		}
		locators = append(locators, locator)
	}
	if err := rows.Close(); err != nil {
		ds.logger.Warn("Failed to close rows for expired images", "error", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM entries WHERE board_slug IN (SELECT slug FROM boards WHERE expires_at <= ?)", now)
	if err != nil {
		return nil, unavailable("purge entries", err)
	}
	purgedEntries, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, "DELETE FROM boards WHERE expires_at <= ?", now)
	if err != nil {
		return nil, unavailable("purge boards", err)
	}
	purgedBoards, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM board_keys WHERE expires_at <= ?", now); err != nil {
		return nil, unavailable("purge keys", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit purge", err)
	}
	if purgedBoards > 0 {
		ds.logger.Info("Purged expired boards", "boards", purgedBoards, "entries", purgedEntries, "images", len(locators))
	}
	return locators, nil
}

// --- Access Keys ---

// GetBoardKey returns the board's live key, or "" when none is set.
func (ds *DatabaseService) GetBoardKey(ctx context.Context, slug string) (string, error) {
	var key string
	err := ds.DB.QueryRowContext(ctx, "SELECT key FROM board_keys WHERE slug = ? AND expires_at > ?",
		slug, ds.now().UnixMicro()).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", unavailable("get board key", err)
	}
	return key, nil
}

// SwapBoardKey installs key only while the live key still equals old; an
// empty old means the board must have no live key. An expired row counts as
// no key.
func (ds *DatabaseService) SwapBoardKey(ctx context.Context, slug, old, key string, ttl time.Duration) (bool, error) {
	now := ds.now()
	var (
		res sql.Result
		err error
	)
	if old == "" {
		res, err = ds.DB.ExecContext(ctx, `
			INSERT INTO board_keys (slug, key, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET key = excluded.key, expires_at = excluded.expires_at
			WHERE board_keys.expires_at <= ?`,
			slug, key, now.Add(ttl).UnixMicro(), now.UnixMicro())
	} else {
		res, err = ds.DB.ExecContext(ctx,
			"UPDATE board_keys SET key = ?, expires_at = ? WHERE slug = ? AND key = ? AND expires_at > ?",
			key, now.Add(ttl).UnixMicro(), slug, old, now.UnixMicro())
	}
	if err != nil {
		return false, unavailable("swap board key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("swap board key", err)
	}
	return n == 1, nil
}

func (ds *DatabaseService) DeleteBoardKey(ctx context.Context, slug string) error {
	_, err := ds.DB.ExecContext(ctx, "DELETE FROM board_keys WHERE slug = ?", slug)
	return unavailable("delete board key", err)
}
