package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// DiscordNotifier sends messages to a fixed Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordNotifier builds a notifier from a bot token and channel id.
// The session stays REST-only; no gateway connection is opened.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID}, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Send(ctx context.Context, text string) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
