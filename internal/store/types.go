package store

import "time"

// GatewayRecord is the durable intent + identity of the managed gateway
// process. A single row keyed by RecordIDGateway.
type GatewayRecord struct {
	ShouldRun   bool       `json:"should_run"`
	OwnerUserID string     `json:"owner_user_id,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Token       string     `json:"token,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// InstanceOwner is the first-writer-wins ownership latch for the whole
// deployment. Once written it never changes.
type InstanceOwner struct {
	UserID    string    `json:"owner_user_id"`
	Email     string    `json:"owner_email"`
	Name      string    `json:"owner_name,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// User is a control plane account, created on first login.
type User struct {
	ID        string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Picture   string    `json:"picture,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an authenticated browser/API session.
type Session struct {
	Token     string    `json:"session_token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession groups chat messages for the built-in assistant.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is a single turn in a chat session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DigestConfig is the global daily digest schedule. Singleton row.
type DigestConfig struct {
	Enabled   bool      `json:"enabled"`
	SendTime  string    `json:"send_time"` // "HH:MM" in UTC
	Cron      string    `json:"cron,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DigestEntry records one digest delivery attempt.
type DigestEntry struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"` // "YYYY-MM-DD" UTC
	Summary   string    `json:"summary"`
	Channel   string    `json:"channel,omitempty"`
	Sent      bool      `json:"sent"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
