package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// CookieName is the session cookie set on login.
const CookieName = "session_token"

var (
	// ErrNotAuthenticated means no valid, unexpired session was presented.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidSessionID means the broker rejected the session id.
	ErrInvalidSessionID = errors.New("invalid session_id")
)

// LockedError is returned when the instance ownership latch denies a
// user. OwnerEmail feeds the user-facing message.
type LockedError struct {
	OwnerEmail string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("instance is locked to %s", e.OwnerEmail)
}

// Exchanger resolves external session ids to identities. Satisfied by
// *IdentityClient; tests substitute a stub.
type Exchanger interface {
	Exchange(ctx context.Context, sessionID string) (*Identity, error)
}

// Guard is the session and instance-access authority. Every protected
// HTTP handler funnels through it.
type Guard struct {
	users    store.UserStore
	sessions store.SessionStore
	gateway  store.GatewayStore
	identity Exchanger

	ttl          time.Duration
	cookieDomain string
}

// NewGuard wires the guard.
func NewGuard(users store.UserStore, sessions store.SessionStore, gateway store.GatewayStore, identity Exchanger, ttl time.Duration, cookieDomain string) *Guard {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Guard{
		users:        users,
		sessions:     sessions,
		gateway:      gateway,
		identity:     identity,
		ttl:          ttl,
		cookieDomain: cookieDomain,
	}
}

// TokenFromRequest extracts the session token: cookie first, then the
// Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// CurrentUser resolves the request's session to a user. Returns
// ErrNotAuthenticated for missing, unknown or expired sessions.
func (g *Guard) CurrentUser(ctx context.Context, r *http.Request) (*store.User, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	sess, err := g.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	// Stored expiries are normalized to UTC on the way in; a naive
	// value from an older row is treated as UTC here too.
	if sess.ExpiresAt.UTC().Before(time.Now().UTC()) {
		return nil, ErrNotAuthenticated
	}

	user, err := g.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return user, nil
}

// Authorize is CurrentUser plus the instance-access check: before the
// ownership latch exists anyone may pass, afterwards only the owner.
func (g *Guard) Authorize(ctx context.Context, r *http.Request) (*store.User, error) {
	user, err := g.CurrentUser(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := g.CheckInstanceAccess(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CheckInstanceAccess enforces the ownership latch for user.
func (g *Guard) CheckInstanceAccess(ctx context.Context, user *store.User) error {
	owner, err := g.gateway.GetInstanceOwner(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil // not locked yet
		}
		return err
	}
	if owner.UserID != user.ID {
		return &LockedError{OwnerEmail: owner.Email}
	}
	return nil
}

// InstanceLocked reports whether the ownership latch exists.
func (g *Guard) InstanceLocked(ctx context.Context) (bool, error) {
	_, err := g.gateway.GetInstanceOwner(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Login exchanges an external session id for a local session. On a
// locked instance, identities other than the owner's are rejected
// before any rows are written.
func (g *Guard) Login(ctx context.Context, sessionID string) (*store.User, *store.Session, error) {
	id, err := g.identity.Exchange(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	owner, err := g.gateway.GetInstanceOwner(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if owner != nil && owner.Email != id.Email {
		slog.Warn("blocked login on locked instance", "email", id.Email, "owner", owner.Email)
		return nil, nil, &LockedError{OwnerEmail: owner.Email}
	}

	now := time.Now().UTC()
	user, err := g.users.GetUserByEmail(ctx, id.Email)
	if errors.Is(err, store.ErrNotFound) {
		user = &store.User{
			ID:        "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Email:     id.Email,
			Name:      id.Name,
			Picture:   id.Picture,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, nil, err
	} else {
		user.Name = id.Name
		user.Picture = id.Picture
	}
	if err := g.users.UpsertUser(ctx, user); err != nil {
		return nil, nil, err
	}

	sess := &store.Session{
		Token:     newSessionToken(),
		UserID:    user.ID,
		ExpiresAt: now.Add(g.ttl),
		CreatedAt: now,
	}
	if err := g.sessions.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

// Logout deletes the request's session, if any.
func (g *Guard) Logout(ctx context.Context, r *http.Request) error {
	token := TokenFromRequest(r)
	if token == "" {
		return nil
	}
	return g.sessions.DeleteSession(ctx, token)
}

func newSessionToken() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SetCookie installs the session cookie on the response.
func (g *Guard) SetCookie(w http.ResponseWriter, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.Token,
		Path:     "/",
		Domain:   g.cookieDomain,
		MaxAge:   int(g.ttl / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// ClearCookie removes the session cookie.
func (g *Guard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   g.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
