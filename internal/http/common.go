// Package http exposes the control plane's REST surface.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors from the auth and gateway
// layers to HTTP status codes. Anything unmapped is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrInvalidSessionID):
		writeError(w, http.StatusUnauthorized, "invalid or expired session_id")
	case errors.As(err, &locked):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":       "instance is locked to another user",
			"owner_email": locked.OwnerEmail,
		})
	case errors.Is(err, gateway.ErrNotOwner), errors.Is(err, gateway.ErrOwnedByOther):
		writeError(w, http.StatusForbidden, "this OpenClaw instance belongs to another user")
	case errors.Is(err, gateway.ErrInvalidProvider), errors.Is(err, gateway.ErrAPIKeyRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrNotRunning):
		writeError(w, http.StatusBadRequest, "OpenClaw is not running")
	case errors.Is(err, gateway.ErrStartFailed):
		writeError(w, http.StatusBadGateway, "OpenClaw failed to start")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
