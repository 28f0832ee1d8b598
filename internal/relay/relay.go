// Package relay forwards room events to outside channels such as chat
// rooms, webhooks or a terminal. Every relay is a monitor subscriber, so
// a slow or failing channel never holds up the conference.
package relay

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// DefaultMaxFailures is how many consecutive send failures a relay
// tolerates before it detaches from the conference.
const DefaultMaxFailures = 3

// Sender delivers one event to an outside channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, monitorID string, ev protocol.RoomEvent) error
}

// Options tune a relay.
type Options struct {
	// Kinds limits the relayed event kinds. Empty relays every kind.
	Kinds       []protocol.EventKind
	MaxFailures int
}

// Relay adapts a Sender to a monitor subscriber for one conference.
type Relay struct {
	monitorID string
	sender    Sender
	opts      Options
	logger    *slog.Logger
	failures  atomic.Int32
	sent      atomic.Uint64
}

// New creates a relay for the conference behind monitorID.
func New(monitorID string, s Sender, opts Options, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Relay{
		monitorID: monitorID,
		sender:    s,
		opts:      opts,
		logger:    logger.With("component", "relay", "relay", s.Name(), "monitor", monitorID),
	}
}

// Factory returns a constructor that attaches a relay to every conference.
func Factory(s Sender, opts Options, logger *slog.Logger) func(monitorID string) monitor.Subscriber {
	return func(monitorID string) monitor.Subscriber {
		return New(monitorID, s, opts, logger)
	}
}

func (r *Relay) ID() string { return r.sender.Name() + "-" + r.monitorID }

// Sent returns the number of delivered events.
func (r *Relay) Sent() uint64 { return r.sent.Load() }

// OnEvent sends ev. Isolated failures are logged; a run of them detaches
// the relay.
func (r *Relay) OnEvent(ctx context.Context, ev protocol.RoomEvent) error {
	if len(r.opts.Kinds) > 0 && !slices.Contains(r.opts.Kinds, ev.Kind) {
		return nil
	}
	if err := r.sender.Send(ctx, r.monitorID, ev); err != nil {
		n := r.failures.Add(1)
		r.logger.Warn("relay send failed", "kind", ev.Kind, "failures", n, "error", err)
		if int(n) >= r.opts.MaxFailures {
			return err
		}
		return nil
	}
	r.failures.Store(0)
	r.sent.Add(1)
	return nil
}

func (r *Relay) OnCompleted() {
	r.logger.Debug("relay finished", "sent", r.sent.Load())
}

func (r *Relay) OnError(err error) {
	r.logger.Warn("relay detached", "sent", r.sent.Load(), "error", err)
}
