// Package store persists sessions, turns, and settings in SQLite.
//
// Turns are append-only; content blocks are stored as a JSON document per
// turn. A slimming hook supplied by the caller is applied at persist time,
// never at read time, so slimming is irreversible by construction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/corvid-labs/rook/pkg/models"
)

const schemaVersion = 2

const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    archived    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS turns (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    text        TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
`

// SlimFunc rewrites content blocks before they are persisted. A nil SlimFunc
// persists blocks verbatim.
type SlimFunc func(role models.Role, blocks []models.ContentBlock) []models.ContentBlock

// Store is a SQLite-backed session, turn, and settings store.
type Store struct {
	db   *sql.DB
	slim SlimFunc
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, slim SlimFunc) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db, slim: slim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < schemaVersion {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for stores layered on the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// -- Settings ---------------------------------------------------------------

// GetSetting returns the value for key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// -- Sessions ---------------------------------------------------------------

// CreateSession inserts a new unarchived session and returns its ID.
func (s *Store) CreateSession(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO sessions (title) VALUES (NULL)")
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID, or nil if it does not exist.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, COALESCE(title, ''), created_at, updated_at, archived FROM sessions WHERE id = ?", id)
	var sess models.Session
	var created, updated string
	var archived int
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	sess.Archived = archived != 0
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// ListSessions returns the most recently updated sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, COALESCE(title, ''), created_at, updated_at, archived FROM sessions ORDER BY updated_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var created, updated string
		var archived int
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated, &archived); err != nil {
			return nil, err
		}
		sess.Archived = archived != 0
		sess.CreatedAt = parseTime(created)
		sess.UpdatedAt = parseTime(updated)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// UpdateSessionTitle sets the session title.
func (s *Store) UpdateSessionTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?", title, nowISO(), id)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return nil
}

// ArchiveSession marks a session archived.
func (s *Store) ArchiveSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET archived = 1, updated_at = ? WHERE id = ?", nowISO(), id)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// DeleteSessions removes sessions and, via cascade, their turns.
func (s *Store) DeleteSessions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := "DELETE FROM sessions WHERE id IN (?"
	args := []any{ids[0]}
	for _, id := range ids[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// -- Turns ------------------------------------------------------------------

// AddTurn persists a turn verbatim and touches the session timestamp.
func (s *Store) AddTurn(ctx context.Context, sessionID int64, role models.Role, blocks []models.ContentBlock) (int64, error) {
	content, err := json.Marshal(blocks)
	if err != nil {
		return 0, fmt.Errorf("encode turn content: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)",
		sessionID, string(role), string(content))
	if err != nil {
		return 0, fmt.Errorf("add turn: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", nowISO(), sessionID); err != nil {
		return 0, fmt.Errorf("touch session: %w", err)
	}
	return res.LastInsertId()
}

// AddTurnSlimmed persists a turn with the slimming hook applied first.
func (s *Store) AddTurnSlimmed(ctx context.Context, sessionID int64, role models.Role, blocks []models.ContentBlock) (int64, error) {
	if s.slim != nil {
		blocks = s.slim(role, blocks)
	}
	return s.AddTurn(ctx, sessionID, role, blocks)
}

// GetTurns returns a session's turns oldest first. If limit > 0, the latest
// limit turns are returned, still in chronological order.
func (s *Store) GetTurns(ctx context.Context, sessionID int64, limit int) ([]*models.Turn, error) {
	query := "SELECT id, session_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY id ASC"
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, session_id, role, content, created_at
			FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = []any{sessionID, limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var out []*models.Turn
	for rows.Next() {
		var t models.Turn
		var role, content, created string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &content, &created); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		t.CreatedAt = parseTime(created)
		if err := json.Unmarshal([]byte(content), &t.Blocks); err != nil {
			return nil, fmt.Errorf("decode turn %d content: %w", t.ID, err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountTurns returns the number of turns in a session.
func (s *Store) CountTurns(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func parseTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
