package http

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
)

// HubHandler manages the extra model providers that extend the
// gateway's catalog without changing its primary model.
type HubHandler struct {
	guard *auth.Guard
	mat   *gateway.Materializer
	ctl   *gateway.Controller
}

// NewHubHandler creates the hub endpoints.
func NewHubHandler(guard *auth.Guard, mat *gateway.Materializer, ctl *gateway.Controller) *HubHandler {
	return &HubHandler{guard: guard, mat: mat, ctl: ctl}
}

// RegisterRoutes registers the hub routes on the given mux.
func (h *HubHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hub/providers", h.handleList)
	mux.HandleFunc("POST /api/hub/providers/configure", h.handleConfigure)
}

func (h *HubHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.mat.Providers(),
	})
}

func (h *HubHandler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		BaseURL  string `json:"base_url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	kind := gateway.ProviderKind(body.Provider)
	if !gateway.ValidHubProvider(kind) {
		writeError(w, http.StatusBadRequest, "unsupported hub provider")
		return
	}

	models, err := h.mat.ConfigureHubProvider(kind, body.APIKey, body.BaseURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The gateway only reads its config at boot; a running instance is
	// bounced so the new provider shows up.
	if err := h.ctl.RestartIfRunning(r.Context()); err != nil {
		slog.Warn("gateway restart after hub configure failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"provider": body.Provider,
		"models":   models,
	})
}
