package http

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/llm"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// historyContext caps how many prior turns are replayed to the model.
const historyContext = 20

// ChatHandler exposes the built-in assistant chat.
type ChatHandler struct {
	guard *auth.Guard
	chat  store.ChatStore
	llm   *llm.Client
}

// NewChatHandler creates the chat endpoints.
func NewChatHandler(guard *auth.Guard, chat store.ChatStore, client *llm.Client) *ChatHandler {
	return &ChatHandler{guard: guard, chat: chat, llm: client}
}

// RegisterRoutes registers the chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/message", h.handleMessage)
	mux.HandleFunc("GET /api/chat/sessions", h.handleSessions)
	mux.HandleFunc("GET /api/chat/history/{id}", h.handleHistory)
	mux.HandleFunc("DELETE /api/chat/session/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /api/chat/transcribe", h.handleTranscribe)
	mux.HandleFunc("POST /api/chat/quick", h.handleQuick)
	mux.HandleFunc("POST /api/chat/playground", h.handlePlayground)
}

func (h *ChatHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
		title := body.Message
		if len(title) > 50 {
			title = title[:50]
		}
		sess := &store.ChatSession{
			ID:        body.SessionID,
			UserID:    user.ID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.chat.CreateChatSession(ctx, sess); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	history, err := h.chat.ListMessages(ctx, body.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	if len(history) > historyContext {
		history = history[len(history)-historyContext:]
	}

	userMsg := &store.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: body.SessionID,
		UserID:    user.ID,
		Role:      "user",
		Content:   body.Message,
		CreatedAt: now,
	}
	if err := h.chat.AppendMessage(ctx, userMsg); err != nil {
		writeDomainError(w, err)
		return
	}

	prompt := make([]llm.Message, 0, len(history)+2)
	prompt = append(prompt, llm.Message{
		Role:    "system",
		Content: "You are the assistant for an OpenClaw deployment. Help the user manage their agent, channels and schedules. Be concise.",
	})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: m.Role, Content: m.Content})
	}
	prompt = append(prompt, llm.Message{Role: "user", Content: body.Message})

	reply, err := h.llm.Chat(ctx, prompt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	assistantMsg := &store.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: body.SessionID,
		UserID:    user.ID,
		Role:      "assistant",
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.chat.AppendMessage(ctx, assistantMsg); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.chat.TouchChatSession(ctx, body.SessionID, assistantMsg.CreatedAt); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": body.SessionID,
		"reply":      reply,
	})
}

func (h *ChatHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sessions, err := h.chat.ListChatSessions(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *ChatHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	messages, err := h.chat.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *ChatHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.guard.Authorize(r.Context(), r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.chat.DeleteChatSession(r.Context(), r.PathValue("id"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleQuick runs one message against a chosen model, with no session
// and nothing persisted. Used by the hub to try out a model.
func (h *ChatHandler) handleQuick(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		Model   string `json:"model"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Model == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "model and message are required")
		return
	}

	reply, err := h.llm.ChatWith(r.Context(), llm.ChatOptions{Model: body.Model},
		[]llm.Message{{Role: "user", Content: body.Message}})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"model":    body.Model,
		"response": reply,
	})
}

// handlePlayground is handleQuick plus sampling controls and timing.
func (h *ChatHandler) handlePlayground(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	body := struct {
		Model       string  `json:"model"`
		Prompt      string  `json:"prompt"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}{Temperature: 0.7, MaxTokens: 1000}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Model == "" || body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}

	start := time.Now()
	reply, err := h.llm.ChatWith(r.Context(), llm.ChatOptions{
		Model:       body.Model,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}, []llm.Message{{Role: "user", Content: body.Prompt}})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"model":    body.Model,
		"response": reply,
		"time":     math.Round(time.Since(start).Seconds()*100) / 100,
		// tokens echoes the request cap; completion usage is not parsed.
		"tokens": body.MaxTokens,
	})
}

func (h *ChatHandler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := h.guard.Authorize(r.Context(), r); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := r.ParseMultipartForm(25 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with an audio file")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	text, err := h.llm.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
