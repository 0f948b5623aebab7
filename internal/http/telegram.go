package http

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	"github.com/nextlevelbuilder/clawhost/internal/notify"
)

// TelegramHandler manages the gateway's Telegram channel pairing.
type TelegramHandler struct {
	guard   *auth.Guard
	mat     *gateway.Materializer
	ctl     *gateway.Controller
	envFile string
}

// NewTelegramHandler creates the Telegram channel endpoints.
func NewTelegramHandler(guard *auth.Guard, mat *gateway.Materializer, ctl *gateway.Controller, envFile string) *TelegramHandler {
	return &TelegramHandler{guard: guard, mat: mat, ctl: ctl, envFile: envFile}
}

// RegisterRoutes registers the Telegram routes on the given mux.
func (h *TelegramHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/telegram/status", h.handleStatus)
	mux.HandleFunc("POST /api/telegram/configure", h.handleConfigure)
}

// currentToken resolves the bot token: environment first, then the
// gateway config file.
func (h *TelegramHandler) currentToken() string {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		return token
	}
	token, _ := h.mat.TelegramToken()
	return token
}

func (h *TelegramHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	token := h.currentToken()
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"configured": false})
		return
	}

	info, err := notify.ValidateBotToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"configured": true,
			"valid":      false,
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": true,
		"valid":      true,
		"bot":        info,
	})
}

func (h *TelegramHandler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		BotToken string `json:"bot_token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.BotToken == "" {
		writeError(w, http.StatusBadRequest, "bot_token is required")
		return
	}

	info, err := notify.ValidateBotToken(r.Context(), body.BotToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.mat.ConfigureTelegram(body.BotToken); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := gateway.UpsertEnvVar(h.envFile, "TELEGRAM_BOT_TOKEN", body.BotToken); err != nil {
		slog.Warn("could not update env file with bot token", "error", err)
	}
	if err := h.ctl.RestartIfRunning(r.Context()); err != nil {
		slog.Warn("gateway restart after telegram configure failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"bot":     info,
	})
}
