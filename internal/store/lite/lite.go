// Package lite provides the standalone-mode metadata store backed by a
// local SQLite file. It mirrors the Postgres store's semantics so the
// rest of the control plane does not care which mode it runs in.
package lite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

const gatewayRecordID = "gateway_config"
const instanceOwnerID = "instance_owner"
const digestConfigID = "digest_config"

const schema = `
CREATE TABLE IF NOT EXISTS gateway_state (
	id TEXT PRIMARY KEY,
	should_run INTEGER NOT NULL DEFAULT 0,
	owner_user_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	token TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS instance_owner (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	claimed_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	picture TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS user_sessions (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);
CREATE TABLE IF NOT EXISTS digest_config (
	id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 0,
	send_time TEXT NOT NULL DEFAULT '',
	cron TEXT NOT NULL DEFAULT '',
	user_email TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS digest_history (
	id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	summary TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	sent INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// NewLiteStores opens (creating if needed) the SQLite database and
// returns all stores backed by it. The schema is applied in place;
// standalone mode has no separate migrate step.
func NewLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	l := &liteDB{db: db}
	return &store.Stores{
		Gateway:  l,
		Users:    l,
		Sessions: l,
		Chat:     l,
		Digest:   l,
	}, nil
}

// liteDB implements every store interface on a single SQLite handle.
type liteDB struct {
	db *sql.DB
}

// --- GatewayStore ---

func (l *liteDB) GetGateway(ctx context.Context) (*store.GatewayRecord, error) {
	var rec store.GatewayRecord
	var startedAt sql.NullTime
	err := l.db.QueryRowContext(ctx,
		`SELECT should_run, owner_user_id, provider, token, started_at, updated_at
		 FROM gateway_state WHERE id = ?`, gatewayRecordID,
	).Scan(&rec.ShouldRun, &rec.OwnerUserID, &rec.Provider, &rec.Token, &startedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gateway record: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	return &rec, nil
}

func (l *liteDB) SaveGateway(ctx context.Context, rec *store.GatewayRecord) error {
	var startedAt sql.NullTime
	if rec.StartedAt != nil {
		startedAt = sql.NullTime{Time: *rec.StartedAt, Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO gateway_state (id, should_run, owner_user_id, provider, token, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   should_run = excluded.should_run,
		   owner_user_id = excluded.owner_user_id,
		   provider = excluded.provider,
		   token = excluded.token,
		   started_at = excluded.started_at,
		   updated_at = excluded.updated_at`,
		gatewayRecordID, rec.ShouldRun, rec.OwnerUserID, rec.Provider, rec.Token, startedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save gateway record: %w", err)
	}
	return nil
}

func (l *liteDB) ClearShouldRun(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE gateway_state SET should_run = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), gatewayRecordID,
	)
	if err != nil {
		return fmt.Errorf("clear should_run: %w", err)
	}
	return nil
}

func (l *liteDB) GetInstanceOwner(ctx context.Context) (*store.InstanceOwner, error) {
	var owner store.InstanceOwner
	err := l.db.QueryRowContext(ctx,
		`SELECT user_id, email, name, claimed_at FROM instance_owner WHERE id = ?`,
		instanceOwnerID,
	).Scan(&owner.UserID, &owner.Email, &owner.Name, &owner.ClaimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance owner: %w", err)
	}
	return &owner, nil
}

func (l *liteDB) ClaimInstanceOwner(ctx context.Context, owner *store.InstanceOwner) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO instance_owner (id, user_id, email, name, claimed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		instanceOwnerID, owner.UserID, owner.Email, owner.Name, owner.ClaimedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim instance owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim instance owner: %w", err)
	}
	return n > 0, nil
}

// --- UserStore ---

func (l *liteDB) UpsertUser(ctx context.Context, u *store.User) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, picture, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   picture = excluded.picture`,
		u.ID, u.Email, u.Name, u.Picture, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (l *liteDB) GetUser(ctx context.Context, id string) (*store.User, error) {
	return l.getUser(ctx, `SELECT id, email, name, picture, created_at FROM users WHERE id = ?`, id)
}

func (l *liteDB) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return l.getUser(ctx, `SELECT id, email, name, picture, created_at FROM users WHERE email = ?`, email)
}

func (l *liteDB) getUser(ctx context.Context, query, arg string) (*store.User, error) {
	var u store.User
	err := l.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- SessionStore ---

func (l *liteDB) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO user_sessions (token, user_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET
		   user_id = excluded.user_id,
		   expires_at = excluded.expires_at`,
		sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (l *liteDB) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var sess store.Session
	err := l.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM user_sessions WHERE token = ?`,
		token,
	).Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (l *liteDB) DeleteSession(ctx context.Context, token string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (l *liteDB) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- ChatStore ---

func (l *liteDB) CreateChatSession(ctx context.Context, sess *store.ChatSession) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_sessions (id, user_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (l *liteDB) TouchChatSession(ctx context.Context, id string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch chat session: %w", err)
	}
	return nil
}

func (l *liteDB) ListChatSessions(ctx context.Context, userID string) ([]store.ChatSession, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
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

func (l *liteDB) DeleteChatSession(ctx context.Context, id, userID string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}

func (l *liteDB) AppendMessage(ctx context.Context, m *store.ChatMessage) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (l *liteDB) ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (l *liteDB) MessagesSince(ctx context.Context, since time.Time) ([]store.ChatMessage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at
		 FROM chat_messages WHERE created_at > ? ORDER BY created_at ASC`, since)
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

// --- DigestStore ---

func (l *liteDB) GetDigestConfig(ctx context.Context) (*store.DigestConfig, error) {
	var cfg store.DigestConfig
	err := l.db.QueryRowContext(ctx,
		`SELECT enabled, send_time, cron, user_email, updated_at
		 FROM digest_config WHERE id = ?`, digestConfigID,
	).Scan(&cfg.Enabled, &cfg.SendTime, &cfg.Cron, &cfg.UserEmail, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get digest config: %w", err)
	}
	return &cfg, nil
}

func (l *liteDB) SaveDigestConfig(ctx context.Context, cfg *store.DigestConfig) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO digest_config (id, enabled, send_time, cron, user_email, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   enabled = excluded.enabled,
		   send_time = excluded.send_time,
		   cron = excluded.cron,
		   user_email = excluded.user_email,
		   updated_at = excluded.updated_at`,
		digestConfigID, cfg.Enabled, cfg.SendTime, cfg.Cron, cfg.UserEmail, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save digest config: %w", err)
	}
	return nil
}

func (l *liteDB) AppendDigestEntry(ctx context.Context, e *store.DigestEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO digest_history (id, date, summary, channel, sent, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Summary, e.Channel, e.Sent, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append digest entry: %w", err)
	}
	return nil
}

func (l *liteDB) ListDigestEntries(ctx context.Context, limit int) ([]store.DigestEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, date, summary, channel, sent, error, created_at
		 FROM digest_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list digest entries: %w", err)
	}
	defer rows.Close()

	var out []store.DigestEntry
	for rows.Next() {
		var e store.DigestEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Summary, &e.Channel, &e.Sent, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
