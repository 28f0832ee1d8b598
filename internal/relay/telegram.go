package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// TelegramConfig identifies the bot and the chat it posts into.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides tgbotapi.APIEndpoint.
	APIEndpoint string
}

// Telegram posts events to a Telegram chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram authorizes the bot.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	logger.Info("telegram relay authorized", "username", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: logger.With("component", "relay", "relay", "telegram")}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Send posts ev as HTML, falling back to plain text when Telegram rejects
// the markup.
func (t *Telegram) Send(ctx context.Context, _ string, ev protocol.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	md := Markdown(ev)
	if strings.TrimSpace(md) == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, MarkdownToTelegramHTML(md))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("HTML send failed, falling back to plain text", "error", err)
		msg.Text = StripMarkdown(md)
		msg.ParseMode = ""
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}
