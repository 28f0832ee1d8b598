package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/h1v3-io/agora/pkg/protocol"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicBaseURL points the provider at another host, e.g. a proxy.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithAnthropicModel sets the model used when a request names none.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithAnthropicHTTPClient replaces the default client.
func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func NewAnthropic(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		client:  &http.Client{Timeout: 2 * time.Minute},
		baseURL: "https://api.anthropic.com",
		apiKey:  apiKey,
		model:   "claude-sonnet-4-20250514",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat sends one turn. The Messages API has no JSON mode, so JSONOutput
// prefills the assistant reply with an opening brace and restores it on
// the way back.
func (p *AnthropicProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	system, messages := toAnthropicMessages(req.Messages)
	prefill := req.JSONOutput && len(messages) > 0 && messages[len(messages)-1].Role == protocol.RoleUser
	if prefill {
		messages = append(messages, anthropicMessage{
			Role:    protocol.RoleAssistant,
			Content: []contentBlock{{Type: "text", Text: "{"}},
		})
	}

	body := anthropicRequest{
		Model:     firstNonEmpty(req.Model, p.model),
		System:    system,
		Messages:  messages,
		MaxTokens: anthropicMaxTokens,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)

	var out anthropicResponse
	if err := post(ctx, p.client, p.Name(), p.baseURL+"/v1/messages", header, body, &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	if prefill {
		text.WriteString("{")
	}
	for _, b := range out.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	if out.StopReason == "max_tokens" {
		return nil, fmt.Errorf("anthropic: reply cut off at %d tokens", body.MaxTokens)
	}
	return &protocol.ChatResponse{
		Content: text.String(),
		Usage:   protocol.Usage{PromptTokens: out.Usage.InputTokens, CompletionTokens: out.Usage.OutputTokens},
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toAnthropicMessages lifts system messages into the top-level system
// field and folds consecutive same-role turns into one message, which the
// API requires.
func toAnthropicMessages(msgs []protocol.ChatMessage) (string, []anthropicMessage) {
	var system []string
	var out []anthropicMessage
	for _, m := range msgs {
		if m.Role == protocol.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		block := contentBlock{Type: "text", Text: m.Content}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: []contentBlock{block}})
	}
	return strings.Join(system, "\n\n"), out
}
