package attendee

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/h1v3-io/agora/internal/provider"
	"github.com/h1v3-io/agora/pkg/protocol"
)

const maxThreadMessages = 40

// AgentResponder answers through an LLM provider and keeps the attendee's
// own conversation thread across turns.
type AgentResponder struct {
	name     string
	model    string
	system   string
	provider provider.Provider
	policy   RetryPolicy
	logger   *slog.Logger

	mu     sync.Mutex
	thread []protocol.ChatMessage
}

// NewAgentResponder creates a responder speaking as name.
func NewAgentResponder(name, model, instruction string, p provider.Provider, policy RetryPolicy, logger *slog.Logger) *AgentResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentResponder{
		name:     name,
		model:    model,
		system:   "You are agent " + name + ". " + instruction,
		provider: p,
		policy:   policy,
		logger:   logger.With("component", "attendee", "attendee", name, "model", model),
	}
}

// Respond sends the transcript as the next user turn and returns the JSON
// object found in the reply. Turns are serialised per attendee.
func (r *AgentResponder) Respond(ctx context.Context, req Request) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prompt := buildPrompt(req)
	messages := make([]protocol.ChatMessage, 0, len(r.thread)+2)
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleSystem, Content: r.system})
	messages = append(messages, r.thread...)
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleUser, Content: prompt})

	var resp *protocol.ChatResponse
	err := r.policy.retry(ctx, func() error {
		var err error
		resp, err = r.provider.Chat(ctx, protocol.ChatRequest{
			Model:      r.model,
			Messages:   messages,
			JSONOutput: true,
		})
		return err
	}, func(attempt int, err error) {
		r.logger.Warn("provider call failed, retrying", "attempt", attempt, "delay", r.policy.Delay, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	r.thread = append(r.thread,
		protocol.ChatMessage{Role: protocol.RoleUser, Content: prompt},
		protocol.ChatMessage{Role: protocol.RoleAssistant, Content: resp.Content},
	)
	if over := len(r.thread) - maxThreadMessages; over > 0 {
		r.thread = append([]protocol.ChatMessage(nil), r.thread[over:]...)
	}

	r.logger.Debug("attendee replied", "tokens", resp.Usage.TotalTokens(), "content_len", len(resp.Content))

	raw := extractJSON(resp.Content)
	if raw == "" {
		return nil, ErrNoResponse
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("reply is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	if req.Transcript != "" {
		sb.WriteString(req.Transcript)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Reply with a single JSON object shaped like this template and nothing else:\n")
	sb.WriteString(req.Format)
	return sb.String()
}

// extractJSON strips markdown code fences and any prose around the
// outermost JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
