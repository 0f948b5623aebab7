package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramNotifier sends Markdown messages to a single paired chat.
type TelegramNotifier struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramNotifier builds a notifier for the given bot token and
// destination chat.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// Send delivers text with Telegram Markdown formatting.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	msg := tu.Message(tu.ID(t.chatID), text)
	msg.ParseMode = "Markdown"
	if _, err := t.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// BotInfo is the subset of getMe output the dashboard shows.
type BotInfo struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// ValidateBotToken checks a bot token against the Telegram Bot API and
// returns the bot's identity. Tokens shorter than 20 characters are
// rejected without a network round trip.
func ValidateBotToken(ctx context.Context, token string) (*BotInfo, error) {
	if len(token) < 20 {
		return nil, fmt.Errorf("bot token looks malformed")
	}

	url := "https://api.telegram.org/bot" + token + "/getMe"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build getMe request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getMe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram rejected token (status %d)", resp.StatusCode)
	}

	var parsed struct {
		OK     bool    `json:"ok"`
		Result BotInfo `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode getMe response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram rejected token")
	}
	return &parsed.Result, nil
}

// PairedChatID reads the first paired Telegram chat id from the
// gateway's allow-from credentials file. The file is either a JSON
// array of ids or an object whose keys are ids.
func PairedChatID(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pairing file: %w", err)
	}

	var asList []any
	if err := json.Unmarshal(data, &asList); err == nil {
		for _, v := range asList {
			if id, ok := coerceChatID(v); ok {
				return id, nil
			}
		}
		return 0, fmt.Errorf("no usable chat id in pairing file")
	}

	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err == nil {
		for k := range asMap {
			if id, err := strconv.ParseInt(k, 10, 64); err == nil {
				return id, nil
			}
		}
		return 0, fmt.Errorf("no usable chat id in pairing file")
	}

	return 0, fmt.Errorf("unrecognized pairing file format")
}

func coerceChatID(v any) (int64, bool) {
	switch x := v.(type) {
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil
	case float64:
		return int64(x), true
	}
	return 0, false
}
