package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// GatewayStore persists gateway intent and the instance ownership latch.
type GatewayStore interface {
	// GetGateway returns the durable gateway record, or ErrNotFound.
	GetGateway(ctx context.Context) (*GatewayRecord, error)
	// SaveGateway upserts the durable gateway record.
	SaveGateway(ctx context.Context, rec *GatewayRecord) error
	// ClearShouldRun flips should_run to false, leaving the rest intact.
	// A missing record is not an error.
	ClearShouldRun(ctx context.Context) error

	// GetInstanceOwner returns the ownership latch, or ErrNotFound.
	GetInstanceOwner(ctx context.Context) (*InstanceOwner, error)
	// ClaimInstanceOwner writes the latch if and only if it is absent.
	// Returns true when this call installed the owner. Concurrent callers
	// race on a single insert; exactly one wins.
	ClaimInstanceOwner(ctx context.Context, owner *InstanceOwner) (bool, error)
}

// UserStore persists control plane accounts.
type UserStore interface {
	// UpsertUser inserts the user or refreshes name/picture on conflict.
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// SessionStore persists authenticated sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session for token, or ErrNotFound.
	// Expiry is not checked here; callers decide what expired means.
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	// DeleteExpired removes sessions past cutoff, returning the count.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChatStore persists the built-in assistant's sessions and messages.
type ChatStore interface {
	CreateChatSession(ctx context.Context, s *ChatSession) error
	TouchChatSession(ctx context.Context, id string, at time.Time) error
	ListChatSessions(ctx context.Context, userID string) ([]ChatSession, error)
	DeleteChatSession(ctx context.Context, id, userID string) error

	AppendMessage(ctx context.Context, m *ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)
	// MessagesSince returns all messages across sessions newer than since,
	// oldest first. Used by the digest pipeline.
	MessagesSince(ctx context.Context, since time.Time) ([]ChatMessage, error)
}

// DigestStore persists digest schedule and delivery history.
type DigestStore interface {
	// GetDigestConfig returns the schedule, or ErrNotFound when never set.
	GetDigestConfig(ctx context.Context) (*DigestConfig, error)
	SaveDigestConfig(ctx context.Context, cfg *DigestConfig) error
	AppendDigestEntry(ctx context.Context, e *DigestEntry) error
	// ListDigestEntries returns newest-first, at most limit rows.
	ListDigestEntries(ctx context.Context, limit int) ([]DigestEntry, error)
}
