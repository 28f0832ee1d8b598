package attendee

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/h1v3-io/agora/internal/provider"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// DefaultNames are picked from when an attendee has no name.
var DefaultNames = []string{
	"Apple", "Banana", "Cherry", "Durians", "Elderberry",
	"Fig", "Grape", "Honeydew", "Iberico", "Jackfruit",
}

// DefaultInstruction is used when an attendee has no instruction.
const DefaultInstruction = "Your goal is to solve problems together with other agents in a conference. " +
	"Communicate clearly, share what you know and contribute to the group's success. " +
	"Be critical and challenge the points you disagree with using reasoning and evidence. " +
	"Follow the evaluation rubric if one is given. " +
	"Keep every reply concise and under 200 words."

// Defaults configures a Provisioner.
type Defaults struct {
	Names       []string
	Instruction string
	Models      []string
	Retry       RetryPolicy
}

// Provisioner builds LLM-backed attendees from options.
type Provisioner struct {
	defaults  Defaults
	providers *provider.Registry
	logger    *slog.Logger
	pick      func(n int) int
}

// NewProvisioner creates a provisioner. Empty default names or instruction
// fall back to DefaultNames and DefaultInstruction.
func NewProvisioner(d Defaults, providers *provider.Registry, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(d.Names) == 0 {
		d.Names = DefaultNames
	}
	if d.Instruction == "" {
		d.Instruction = DefaultInstruction
	}
	return &Provisioner{defaults: d, providers: providers, logger: logger, pick: rand.IntN}
}

// Provision returns one attendee per option, in order.
func (p *Provisioner) Provision(ctx context.Context, opts []protocol.AttendeeOptions) ([]*Attendee, error) {
	out := make([]*Attendee, 0, len(opts))
	for i, o := range opts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := strings.TrimSpace(o.Name)
		if name == "" {
			name = p.defaults.Names[p.pick(len(p.defaults.Names))]
		}
		instruction := strings.TrimSpace(o.Instruction)
		if instruction == "" {
			instruction = p.defaults.Instruction
		}
		model := strings.TrimSpace(o.Model)
		if model == "" {
			if len(p.defaults.Models) == 0 {
				return nil, fmt.Errorf("attendee: provision %d: no model given and no default models configured", i)
			}
			model = p.defaults.Models[p.pick(len(p.defaults.Models))]
		}

		prov, err := p.providers.For(model)
		if err != nil {
			return nil, fmt.Errorf("attendee: provision %s: %w", name, err)
		}
		r := NewAgentResponder(name, model, instruction, prov, p.defaults.Retry, p.logger)
		out = append(out, New(name, model, r))
	}
	return out, nil
}
