package http

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
)

// AuthHandler exposes login, session introspection and the instance
// lock state.
type AuthHandler struct {
	guard   *auth.Guard
	limiter *ipLimiter
}

// NewAuthHandler creates the auth endpoints. rpm caps login attempts
// per client IP per minute.
func NewAuthHandler(guard *auth.Guard, rpm int) *AuthHandler {
	return &AuthHandler{guard: guard, limiter: newIPLimiter(rpm)}
}

// RegisterRoutes registers the auth routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/session", h.handleLogin)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/instance", h.handleInstance)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(r) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, slow down")
		return
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SessionID == "" {
		body.SessionID = r.Header.Get("X-Session-ID")
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	user, sess, err := h.guard.Login(r.Context(), body.SessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.guard.SetCookie(w, sess)
	slog.Info("user logged in", "user_id", user.ID, "email", user.Email)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":          user,
		"session_token": sess.Token,
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.CurrentUser(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Logout(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}
	h.guard.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) handleInstance(w http.ResponseWriter, r *http.Request) {
	locked, err := h.guard.InstanceLocked(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": locked})
}
