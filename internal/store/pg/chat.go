package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// PGChatStore implements store.ChatStore backed by Postgres.
type PGChatStore struct {
	db *sql.DB
}

func NewPGChatStore(db *sql.DB) *PGChatStore {
	return &PGChatStore{db: db}
}

func (s *PGChatStore) CreateChatSession(ctx context.Context, sess *store.ChatSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (s *PGChatStore) TouchChatSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch chat session: %w", err)
	}
	return nil
}

func (s *PGChatStore) ListChatSessions(ctx context.Context, userID string) ([]store.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM chat_sessions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	var out []store.ChatSession
	for rows.Next() {
		var sess store.ChatSession
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PGChatStore) DeleteChatSession(ctx context.Context, id, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}

func (s *PGChatStore) AppendMessage(ctx context.Context, m *store.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *PGChatStore) ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at
		 FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PGChatStore) MessagesSince(ctx context.Context, since time.Time) ([]store.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at
		 FROM chat_messages WHERE created_at > $1 ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]store.ChatMessage, error) {
	var out []store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
