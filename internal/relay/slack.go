package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// SlackConfig selects how events reach Slack: an incoming webhook, or a
// bot token posting into a channel.
type SlackConfig struct {
	WebhookURL string
	BotToken   string
	Channel    string
	// APIURL overrides the Slack Web API base URL.
	APIURL string
}

// Slack posts events to a Slack channel.
type Slack struct {
	cfg    SlackConfig
	api    *slack.Client
	client *http.Client
}

// NewSlack validates cfg and creates the sender.
func NewSlack(cfg SlackConfig, client *http.Client) (*Slack, error) {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Slack{cfg: cfg, client: client}
	switch {
	case cfg.WebhookURL != "":
	case cfg.BotToken != "":
		if cfg.Channel == "" {
			return nil, errors.New("slack: channel is required with a bot token")
		}
		opts := []slack.Option{slack.OptionHTTPClient(client)}
		if cfg.APIURL != "" {
			opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
		}
		s.api = slack.New(cfg.BotToken, opts...)
	default:
		return nil, errors.New("slack: webhook_url or bot_token is required")
	}
	return s, nil
}

func (s *Slack) Name() string { return "slack" }

// Send posts ev as mrkdwn.
func (s *Slack) Send(ctx context.Context, monitorID string, ev protocol.RoomEvent) error {
	text := MarkdownToMrkdwn(Markdown(ev))
	if s.api != nil {
		_, _, err := s.api.PostMessageContext(ctx, s.cfg.Channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionMetadata(slack.SlackMetadata{
				EventType:    "agora_room_event",
				EventPayload: map[string]any{"monitor_id": monitorID, "kind": string(ev.Kind)},
			}),
		)
		if err != nil {
			return fmt.Errorf("slack: post message: %w", err)
		}
		return nil
	}
	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.cfg.WebhookURL, s.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}
