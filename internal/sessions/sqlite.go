package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus/pkg/models"
)

// SQLiteStore is a durable Store backed by a pure-Go, cgo-free sqlite driver.
// It is one pluggable implementation of Store; callers needing no
// persistence across process restarts should use MemoryStore instead.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the sqlite database at path
// and ensures the session/message tables exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT,
		metadata JSON,
		created_at DATETIME,
		updated_at DATETIME
	);`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT,
		content TEXT,
		parts JSON,
		tool_calls JSON,
		tool_results JSON,
		attachments JSON,
		thinking TEXT,
		compaction JSON,
		is_meta BOOLEAN,
		metadata JSON,
		timestamp DATETIME
	);`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (id, title, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, meta, session.CreatedAt, session.UpdatedAt)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var sess models.Session
	var meta []byte
	if err := row.Scan(&sess.ID, &sess.Title, &meta, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		session.Title, meta, session.UpdatedAt, session.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, title, metadata, created_at, updated_at FROM sessions ORDER BY created_at DESC`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var meta []byte
		if err := rows.Scan(&sess.ID, &sess.Title, &meta, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return err
	}

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return err
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return err
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}
	compaction, err := json.Marshal(msg.Compaction)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages
		(id, session_id, seq, role, content, parts, tool_calls, tool_results, attachments, thinking, compaction, is_meta, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, seq, string(msg.Role), msg.Content, parts, toolCalls, toolResults, attachments, msg.Thinking, compaction, msg.IsMeta, metadata, msg.Timestamp)
	return err
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	const cols = "id, role, content, parts, tool_calls, tool_results, attachments, thinking, compaction, is_meta, metadata, timestamp"
	query := `SELECT ` + cols + ` FROM messages WHERE session_id = ? ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT ` + cols + ` FROM (SELECT ` + cols + `, seq FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows rowScanner) (*models.Message, error) {
	var msg models.Message
	var role string
	var parts, toolCalls, toolResults, attachments, compaction, metadata []byte
	if err := rows.Scan(&msg.ID, &role, &msg.Content, &parts, &toolCalls, &toolResults, &attachments, &msg.Thinking, &compaction, &msg.IsMeta, &metadata, &msg.Timestamp); err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	if len(parts) > 0 && string(parts) != "null" {
		if err := json.Unmarshal(parts, &msg.Parts); err != nil {
			return nil, err
		}
	}
	if len(toolCalls) > 0 && string(toolCalls) != "null" {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
	}
	if len(toolResults) > 0 && string(toolResults) != "null" {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return nil, err
		}
	}
	if len(attachments) > 0 && string(attachments) != "null" {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, err
		}
	}
	if len(compaction) > 0 && string(compaction) != "null" {
		if err := json.Unmarshal(compaction, &msg.Compaction); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
