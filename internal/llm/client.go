package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Message is a single chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an OpenAI-compatible API for chat completions and
// audio transcription.
type Client struct {
	apiBase         string
	apiKey          string
	model           string
	transcribeModel string
	client          *http.Client
}

// New builds a client. apiBase defaults to the OpenAI endpoint, model
// to gpt-4o-mini and transcribeModel to whisper-1.
func New(apiBase, apiKey, model, transcribeModel string) *Client {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	return &Client{
		apiBase:         strings.TrimRight(apiBase, "/"),
		apiKey:          apiKey,
		model:           model,
		transcribeModel: transcribeModel,
		client:          &http.Client{Timeout: 120 * time.Second},
	}
}

// Model returns the configured chat model id.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatOptions override the client defaults for one completion. Zero
// values mean "use the default".
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends the conversation and returns the assistant's reply text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	return c.ChatWith(ctx, ChatOptions{}, messages)
}

// ChatWith is Chat with per-call model and sampling overrides.
func (c *Client) ChatWith(ctx context.Context, opts ChatOptions, messages []Message) (string, error) {
	if opts.Model == "" {
		opts.Model = c.model
	}
	data, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Transcribe uploads audio to the transcription endpoint and returns
// the recognized text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}
