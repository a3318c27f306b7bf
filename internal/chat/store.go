// Package chat persists conversation sessions and their messages so
// answers can build on earlier turns. Storage is a single SQLite file
// in WAL mode; messages cascade-delete with their session.
package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/rag"
)

// timeFormat is how timestamps are stored in SQLite.
const timeFormat = time.RFC3339

// Session is one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn inside a session. Assistant messages carry the
// sources their answer was grounded on.
type Message struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Sources   []rag.Source `json:"sources,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	sources_json TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session
	ON messages(session_id, created_at);
`

// Store owns the chat database.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// defaultNow truncates to the stored precision so returned structs
// match what a later read yields.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// NewStore opens (or creates) the chat database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.IOError("failed to create chat store directory", err).
			WithDetail("path", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.IOError("failed to open chat store", err).
			WithDetail("path", path)
	}

	// modernc.org/sqlite allows one writer; a single connection avoids
	// SQLITE_BUSY between the session and message statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Pragmas go through statements: DSN params may be ignored by
	// modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to set pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to initialize chat schema", err)
	}

	return &Store{db: db, path: path, now: defaultNow}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CreateSession starts a new conversation thread.
func (s *Store) CreateSession(ctx context.Context, title, projectID string) (*Session, error) {
	now := s.now()
	session := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, project_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.ProjectID,
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to create session", err)
	}
	return session, nil
}

// GetSession returns a session by id, or nil when it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, project_id, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to get session", err)
	}
	return session, nil
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, project_id, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC, created_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to list sessions", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to scan session", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to list sessions", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and, through the cascade, its
// messages. It reports whether the session existed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, errors.New(errors.ErrCodeStoreFailed, "failed to delete session", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.New(errors.ErrCodeStoreFailed, "failed to delete session", err)
	}
	return affected > 0, nil
}

// AppendMessage records one turn and bumps the session's activity
// time. The session must exist.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string, sources []rag.Source) (*Message, error) {
	sourcesJSON, err := encodeSources(sources)
	if err != nil {
		return nil, err
	}

	now := s.now()
	message := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Sources:   sources,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "session not found", nil).
			WithDetail("session_id", sessionID)
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to check session", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, sources_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Role, message.Content,
		sourcesJSON, now.Format(timeFormat))
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to append message", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		now.Format(timeFormat), sessionID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to touch session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to commit message", err)
	}
	return message, nil
}

// ListMessages returns a session's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, sources_json, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to list messages", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to scan message", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to list messages", err)
	}
	return messages, nil
}

// RecentMessages returns the last n messages of a session oldest
// first, for the rewriter's history window.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, sources_json, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to load recent messages", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, n)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to scan message", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to load recent messages", err)
	}

	// The query walks newest-first; flip back to conversation order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var createdAt, updatedAt string
	if err := row.Scan(&session.ID, &session.Title, &session.ProjectID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if session.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var message Message
	var sourcesJSON, createdAt string
	if err := row.Scan(&message.ID, &message.SessionID, &message.Role, &message.Content, &sourcesJSON, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if message.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if message.Sources, err = decodeSources(sourcesJSON); err != nil {
		return nil, err
	}
	return &message, nil
}

func encodeSources(sources []rag.Source) (string, error) {
	if len(sources) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return "", errors.InternalError("failed to encode sources", err)
	}
	return string(data), nil
}

func decodeSources(raw string) ([]rag.Source, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var sources []rag.Source
	if err := json.Unmarshal([]byte(raw), &sources); err != nil {
		return nil, err
	}
	return sources, nil
}
