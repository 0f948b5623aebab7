package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) UpsertUser(ctx context.Context, u *store.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, picture, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   picture = EXCLUDED.picture`,
		u.ID, u.Email, u.Name, u.Picture, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PGUserStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, picture, created_at FROM users WHERE id = $1`, id)
}

func (s *PGUserStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, picture, created_at FROM users WHERE email = $1`, email)
}

func (s *PGUserStore) getUser(ctx context.Context, query, arg string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.Picture, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// PGSessionStore implements store.SessionStore backed by Postgres.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

func (s *PGSessionStore) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   expires_at = EXCLUDED.expires_at`,
		sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM user_sessions WHERE token = $1`,
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

func (s *PGSessionStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
