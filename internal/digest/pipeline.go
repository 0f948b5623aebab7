// Package digest builds and delivers the daily activity summary.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawhost/internal/llm"
	"github.com/nextlevelbuilder/clawhost/internal/notify"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

const (
	// lookback window for messages included in a digest.
	window = 24 * time.Hour

	// maxMessages caps how many rows are pulled from the store;
	// promptMessages caps how many of those make it into the prompt.
	maxMessages    = 200
	promptMessages = 80

	// contentLimit truncates long message bodies before prompting.
	contentLimit = 300
)

// ErrNoActivity is returned when the lookback window holds no messages.
var ErrNoActivity = fmt.Errorf("no messages in the last 24h")

// Summarizer produces the digest body from chat transcripts. Satisfied
// by *llm.Client.
type Summarizer interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Pipeline assembles one digest: collect, summarize, deliver, record.
type Pipeline struct {
	chat     store.ChatStore
	digests  store.DigestStore
	llm      Summarizer
	notifier notify.Notifier
}

// NewPipeline wires a digest pipeline. notifier may be nil; a digest is
// then composed and recorded but not delivered.
func NewPipeline(chat store.ChatStore, digests store.DigestStore, s Summarizer, notifier notify.Notifier) *Pipeline {
	return &Pipeline{chat: chat, digests: digests, llm: s, notifier: notifier}
}

// Run builds and sends the digest for now's date. Returns the summary
// text, or ErrNoActivity when there was nothing to summarize.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (string, error) {
	msgs, err := p.chat.MessagesSince(ctx, now.Add(-window))
	if err != nil {
		return "", fmt.Errorf("collect messages: %w", err)
	}
	if len(msgs) == 0 {
		return "", ErrNoActivity
	}
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	summary, err := p.llm.Chat(ctx, buildPrompt(msgs))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	header := fmt.Sprintf("*Good morning! Here's your digest for %s:*\n\n", now.UTC().Format("January 2, 2006"))
	text := header + summary

	entry := &store.DigestEntry{
		ID:        uuid.NewString(),
		Date:      now.UTC().Format("2006-01-02"),
		Summary:   summary,
		Sent:      false,
		CreatedAt: now.UTC(),
	}

	if p.notifier != nil {
		entry.Channel = p.notifier.Name()
		if err := p.notifier.Send(ctx, text); err != nil {
			entry.Error = err.Error()
			if saveErr := p.digests.AppendDigestEntry(ctx, entry); saveErr != nil {
				slog.Error("record failed digest", "error", saveErr)
			}
			return "", fmt.Errorf("deliver digest: %w", err)
		}
		entry.Sent = true
	}

	if err := p.digests.AppendDigestEntry(ctx, entry); err != nil {
		slog.Error("record digest", "error", err)
	}
	return summary, nil
}

func buildPrompt(msgs []store.ChatMessage) []llm.Message {
	if len(msgs) > promptMessages {
		msgs = msgs[len(msgs)-promptMessages:]
	}

	var b strings.Builder
	for _, m := range msgs {
		content := m.Content
		if len(content) > contentLimit {
			content = content[:contentLimit]
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.UTC().Format("15:04"), m.Role, content)
	}

	return []llm.Message{
		{
			Role: "system",
			Content: "You summarize a user's assistant conversations into a short daily digest. " +
				"Write 3-5 bullet points covering the main topics and any follow-ups worth remembering. " +
				"Use Telegram Markdown (single asterisks for bold). Be concise.",
		},
		{
			Role:    "user",
			Content: "Here are the conversations from the last 24 hours:\n\n" + b.String(),
		},
	}
}
