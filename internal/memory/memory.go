// Package memory implements long-term memory: durable notes the agent saves
// across sessions, searched with SQLite FTS5 when available and a LIKE scan
// otherwise.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corvid-labs/rook/pkg/models"
)

// Store persists and searches memories on a shared SQLite handle.
type Store struct {
	db     *sql.DB
	fts    bool
	logger *slog.Logger
}

// New prepares the memory store on db. FTS5 support is probed once; if the
// build lacks it, search falls back to a LIKE scan.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts
		USING fts5(text, content='memories', content_rowid='id')`)
	if err != nil {
		logger.Warn("fts5 unavailable, memory search will use LIKE", "error", err)
		return s, nil
	}
	s.fts = true
	for _, trigger := range []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
		END`,
	} {
		if _, err := db.Exec(trigger); err != nil {
			return nil, fmt.Errorf("create fts trigger: %w", err)
		}
	}
	return s, nil
}

// Add saves a memory and returns its ID.
func (s *Store) Add(ctx context.Context, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("memory text is empty")
	}
	res, err := s.db.ExecContext(ctx, "INSERT INTO memories (text) VALUES (?)", text)
	if err != nil {
		return 0, fmt.Errorf("add memory: %w", err)
	}
	return res.LastInsertId()
}

// Search returns up to limit memories matching query, best match first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*models.Memory, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	if s.fts {
		out, err := s.searchFTS(ctx, query, limit)
		if err == nil {
			return out, nil
		}
		// FTS5 rejects some punctuation-heavy queries; the scan still works.
		s.logger.Debug("fts search failed, falling back to LIKE", "error", err)
	}
	return s.searchLike(ctx, query, limit)
}

func (s *Store) searchFTS(ctx context.Context, query string, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.created_at
		FROM memories_fts f JOIN memories m ON m.id = f.rowid
		WHERE memories_fts MATCH ?
		ORDER BY rank LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *Store) searchLike(ctx context.Context, query string, limit int) ([]*models.Memory, error) {
	// Match any term rather than the whole phrase, roughly what FTS does.
	terms := strings.Fields(query)
	where := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for _, term := range terms {
		where = append(where, "text LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(term)+"%")
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, created_at FROM memories WHERE "+strings.Join(where, " OR ")+
			" ORDER BY created_at DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// List returns the most recent memories, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, created_at FROM memories ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Delete removes a memory by ID. It reports whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Recall returns up to k memories relevant to the query text, used to seed
// the system prompt. A failed or empty search falls back to the k most
// recently stored entries; if that fails too, recall degrades to nothing
// rather than an error.
func (s *Store) Recall(ctx context.Context, query string, k int) []*models.Memory {
	out, err := s.Search(ctx, query, k)
	if err != nil {
		s.logger.Warn("memory recall failed, falling back to recent entries", "error", err)
	}
	if len(out) > 0 {
		return out
	}
	recent, err := s.List(ctx, k)
	if err != nil {
		s.logger.Warn("memory recall fallback failed", "error", err)
		return nil
	}
	return recent
}

func scanMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		var m models.Memory
		var created string
		if err := rows.Scan(&m.ID, &m.Text, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse("2006-01-02T15:04:05Z", created); err == nil {
			m.CreatedAt = t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ftsQuery quotes each term so user punctuation cannot break MATCH syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
