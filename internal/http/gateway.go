package http

import (
	"net/http"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	"github.com/nextlevelbuilder/clawhost/internal/watcher"
)

// GatewayHandler exposes gateway lifecycle operations.
type GatewayHandler struct {
	guard    *auth.Guard
	ctl      *gateway.Controller
	whatsapp *watcher.WhatsAppWatcher
}

// NewGatewayHandler creates the lifecycle endpoints. whatsapp may be
// nil when the watcher is disabled.
func NewGatewayHandler(guard *auth.Guard, ctl *gateway.Controller, whatsapp *watcher.WhatsAppWatcher) *GatewayHandler {
	return &GatewayHandler{guard: guard, ctl: ctl, whatsapp: whatsapp}
}

// RegisterRoutes registers the lifecycle routes on the given mux.
func (h *GatewayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/openclaw/start", h.handleStart)
	mux.HandleFunc("POST /api/openclaw/stop", h.handleStop)
	mux.HandleFunc("GET /api/openclaw/status", h.handleStatus)
	mux.HandleFunc("GET /api/openclaw/token", h.handleToken)
	mux.HandleFunc("GET /api/openclaw/whatsapp/status", h.handleWhatsAppStatus)
}

func (h *GatewayHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Provider == "" {
		body.Provider = string(gateway.ProviderEmergent)
	}

	token, err := h.ctl.Start(r.Context(), gateway.StartRequest{
		Provider: gateway.ProviderKind(body.Provider),
		APIKey:   body.APIKey,
		User:     user,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"running":    true,
		"token":      token,
		"controlUrl": gateway.ControlURLPath,
	})
}

func (h *GatewayHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	wasRunning, err := h.ctl.Stop(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"was_running": wasRunning,
	})
}

func (h *GatewayHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.CurrentUser(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status(r.Context(), user.ID))
}

func (h *GatewayHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := h.ctl.Token(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *GatewayHandler) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.whatsapp == nil {
		writeJSON(w, http.StatusOK, &watcher.WhatsAppStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.whatsapp.Status())
}
