package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/digest"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// digestHistoryLimit caps the history endpoint's response.
const digestHistoryLimit = 10

// DigestHandler exposes the daily digest schedule and history.
type DigestHandler struct {
	guard    *auth.Guard
	digests  store.DigestStore
	pipeline *digest.Pipeline
}

// NewDigestHandler creates the digest endpoints.
func NewDigestHandler(guard *auth.Guard, digests store.DigestStore, pipeline *digest.Pipeline) *DigestHandler {
	return &DigestHandler{guard: guard, digests: digests, pipeline: pipeline}
}

// RegisterRoutes registers the digest routes on the given mux.
func (h *DigestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/digest/config", h.handleGetConfig)
	mux.HandleFunc("POST /api/digest/config", h.handleSetConfig)
	mux.HandleFunc("POST /api/digest/trigger", h.handleTrigger)
	mux.HandleFunc("GET /api/digest/history", h.handleHistory)
}

func (h *DigestHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	cfg, err := h.digests.GetDigestConfig(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		cfg = &store.DigestConfig{Enabled: false, SendTime: "08:00"}
	} else if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *DigestHandler) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		Enabled  bool   `json:"enabled"`
		SendTime string `json:"send_time"`
		Cron     string `json:"cron"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if body.Cron != "" {
		if err := digest.ValidateCron(body.Cron); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if body.SendTime == "" {
			body.SendTime = "08:00"
		}
		if err := digest.ValidateSendTime(body.SendTime); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cfg := &store.DigestConfig{
		Enabled:   body.Enabled,
		SendTime:  body.SendTime,
		Cron:      body.Cron,
		UserEmail: user.Email,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.digests.SaveDigestConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *DigestHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	summary, err := h.pipeline.Run(r.Context(), time.Now().UTC())
	if errors.Is(err, digest.ErrNoActivity) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      false,
			"message": "No messages in the last 24h",
		})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"summary": summary,
	})
}

func (h *DigestHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := h.digests.ListDigestEntries(r.Context(), digestHistoryLimit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []store.DigestEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
