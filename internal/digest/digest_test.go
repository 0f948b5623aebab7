package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/llm"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

type memChat struct {
	messages []store.ChatMessage
}

func (m *memChat) CreateChatSession(ctx context.Context, s *store.ChatSession) error { return nil }
func (m *memChat) TouchChatSession(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (m *memChat) ListChatSessions(ctx context.Context, userID string) ([]store.ChatSession, error) {
	return nil, nil
}
func (m *memChat) DeleteChatSession(ctx context.Context, id, userID string) error { return nil }
func (m *memChat) AppendMessage(ctx context.Context, msg *store.ChatMessage) error {
	m.messages = append(m.messages, *msg)
	return nil
}
func (m *memChat) ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	return nil, nil
}
func (m *memChat) MessagesSince(ctx context.Context, since time.Time) ([]store.ChatMessage, error) {
	var out []store.ChatMessage
	for _, msg := range m.messages {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memDigest struct {
	mu      sync.Mutex
	cfg     *store.DigestConfig
	entries []store.DigestEntry
}

func (m *memDigest) GetDigestConfig(ctx context.Context) (*store.DigestConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *memDigest) SaveDigestConfig(ctx context.Context, cfg *store.DigestConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.cfg = &cp
	return nil
}

func (m *memDigest) AppendDigestEntry(ctx context.Context, e *store.DigestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memDigest) ListDigestEntries(ctx context.Context, limit int) ([]store.DigestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DigestEntry(nil), m.entries...), nil
}

type stubLLM struct {
	reply      string
	err        error
	lastPrompt []llm.Message
}

func (s *stubLLM) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	s.lastPrompt = messages
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubNotifier struct {
	sent []string
	err  error
}

func (s *stubNotifier) Name() string { return "telegram" }
func (s *stubNotifier) Send(ctx context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func seedMessages(chat *memChat, n int, age time.Duration) {
	base := time.Now().Add(-age)
	for i := 0; i < n; i++ {
		chat.messages = append(chat.messages, store.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestRunDeliversAndRecords(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 3, time.Hour)
	digests := &memDigest{}
	l := &stubLLM{reply: "* Talked about deployments\n* Scheduled a follow-up"}
	n := &stubNotifier{}

	p := NewPipeline(chat, digests, l, n)
	summary, err := p.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(summary, "deployments") {
		t.Errorf("summary = %q", summary)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(n.sent))
	}
	if !strings.HasPrefix(n.sent[0], "*Good morning!") {
		t.Errorf("delivery missing header: %q", n.sent[0])
	}
	if len(digests.entries) != 1 || !digests.entries[0].Sent {
		t.Errorf("entries = %+v", digests.entries)
	}
	if digests.entries[0].Channel != "telegram" {
		t.Errorf("channel = %q", digests.entries[0].Channel)
	}
}

func TestRunEmptyWindow(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 5, 48*time.Hour) // all older than the window
	digests := &memDigest{}
	p := NewPipeline(chat, digests, &stubLLM{reply: "x"}, &stubNotifier{})

	_, err := p.Run(context.Background(), time.Now())
	if !errors.Is(err, ErrNoActivity) {
		t.Fatalf("got %v, want ErrNoActivity", err)
	}
	if len(digests.entries) != 0 {
		t.Error("empty window still recorded an entry")
	}
}

func TestRunRecordsDeliveryFailure(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 2, time.Hour)
	digests := &memDigest{}
	n := &stubNotifier{err: errors.New("bot blocked")}
	p := NewPipeline(chat, digests, &stubLLM{reply: "summary"}, n)

	if _, err := p.Run(context.Background(), time.Now()); err == nil {
		t.Fatal("want delivery error")
	}
	if len(digests.entries) != 1 || digests.entries[0].Sent || digests.entries[0].Error == "" {
		t.Errorf("entries = %+v", digests.entries)
	}
}

func TestRunWithoutNotifierStillRecords(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 2, time.Hour)
	digests := &memDigest{}
	p := NewPipeline(chat, digests, &stubLLM{reply: "summary"}, nil)

	if _, err := p.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(digests.entries) != 1 || digests.entries[0].Sent {
		t.Errorf("entries = %+v", digests.entries)
	}
}

func TestPromptTruncation(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 120, time.Hour)
	long := strings.Repeat("x", 900)
	chat.messages = append(chat.messages, store.ChatMessage{
		ID: "long", Role: "user", Content: long, CreatedAt: time.Now(),
	})

	l := &stubLLM{reply: "ok"}
	p := NewPipeline(chat, &memDigest{}, l, nil)
	if _, err := p.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	user := l.lastPrompt[len(l.lastPrompt)-1].Content
	if strings.Contains(user, long) {
		t.Error("long message not truncated in prompt")
	}
	if got := strings.Count(user, "] user: "); got > promptMessages {
		t.Errorf("prompt holds %d messages, cap is %d", got, promptMessages)
	}
	// Oldest rows fall out first.
	if strings.Contains(user, "message 0\n") && !strings.Contains(user, "message 119") {
		t.Error("prompt kept oldest messages instead of newest")
	}
}

func TestValidateSendTime(t *testing.T) {
	for _, good := range []string{"00:00", "9:30", "09:30", "23:59"} {
		if err := ValidateSendTime(good); err != nil {
			t.Errorf("ValidateSendTime(%q) = %v", good, err)
		}
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "12", "12:5", ""} {
		if err := ValidateSendTime(bad); err == nil {
			t.Errorf("ValidateSendTime(%q) passed", bad)
		}
	}
}

func TestSchedulerDue(t *testing.T) {
	s := NewScheduler(&memDigest{}, nil)
	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 28, h, m, 0, 0, time.UTC)
	}

	cfg := &store.DigestConfig{SendTime: "08:30"}
	if !s.due(cfg, at(8, 30)) {
		t.Error("08:30 not due at 08:30")
	}
	if s.due(cfg, at(8, 31)) {
		t.Error("08:30 due at 08:31")
	}

	cron := &store.DigestConfig{Cron: "30 8 * * *"}
	if !s.due(cron, at(8, 30)) {
		t.Error("cron not due at 08:30")
	}
	if s.due(cron, at(9, 0)) {
		t.Error("cron due at 09:00")
	}
}

func TestSchedulerFiresOncePerDay(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 2, time.Hour)
	digests := &memDigest{cfg: &store.DigestConfig{Enabled: true, SendTime: "08:30"}}
	n := &stubNotifier{}
	s := NewScheduler(digests, NewPipeline(chat, digests, &stubLLM{reply: "sum"}, n))

	fire := time.Date(2026, 8, 28, 8, 30, 5, 0, time.UTC)
	s.maybeFire(context.Background(), fire)
	s.maybeFire(context.Background(), fire.Add(20*time.Second))
	if len(n.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(n.sent))
	}

	// Next day fires again.
	s.maybeFire(context.Background(), fire.Add(24*time.Hour))
	if len(n.sent) != 2 {
		t.Fatalf("sent %d, want 2", len(n.sent))
	}
}

func TestSchedulerDisabled(t *testing.T) {
	chat := &memChat{}
	seedMessages(chat, 2, time.Hour)
	digests := &memDigest{cfg: &store.DigestConfig{Enabled: false, SendTime: "08:30"}}
	n := &stubNotifier{}
	s := NewScheduler(digests, NewPipeline(chat, digests, &stubLLM{reply: "sum"}, n))

	s.maybeFire(context.Background(), time.Date(2026, 8, 28, 8, 30, 0, 0, time.UTC))
	if len(n.sent) != 0 {
		t.Error("disabled digest still sent")
	}
}
