// Package conference runs conferences end to end: it leases a room, seats
// the attendees, drives the discussion under a time budget, collects the
// deliverable and archives the transcript.
package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/internal/operation"
	"github.com/h1v3-io/agora/internal/pool"
	"github.com/h1v3-io/agora/pkg/protocol"
)

var (
	ErrInvalidProblem = errors.New("conference: problem statement is required")
	ErrNoAttendees    = errors.New("conference: at least one attendee is required")
	ErrTimeLimit      = errors.New("conference: time limit out of range")
	ErrShuttingDown   = errors.New("conference: shutting down")
)

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidProblem) || errors.Is(err, ErrNoAttendees) || errors.Is(err, ErrTimeLimit)
}

// Provisioner turns attendee options into attendees.
type Provisioner interface {
	Provision(ctx context.Context, opts []protocol.AttendeeOptions) ([]*attendee.Attendee, error)
}

// SubscriberFactory builds an extra subscriber for every conference
// monitor, e.g. a chat relay. It may return nil to skip a monitor.
type SubscriberFactory func(monitorID string) monitor.Subscriber

// Config holds the orchestrator's limits.
type Config struct {
	DefaultTimeLimit time.Duration
	MaxTimeLimit     time.Duration
	AsyncTimeout     time.Duration
	// CloseTimeout bounds how long a finished conference waits for its
	// subscribers to drain.
	CloseTimeout time.Duration
	QueueSize    int
	MailboxSize  int
	LogEvents    bool
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		DefaultTimeLimit: 60 * time.Second,
		MaxTimeLimit:     5 * time.Minute,
		AsyncTimeout:     5 * time.Minute,
		CloseTimeout:     10 * time.Second,
		QueueSize:        monitor.DefaultQueueSize,
		MailboxSize:      monitor.DefaultMailboxSize,
	}
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Pool        *pool.Pool
	Provisioner Provisioner
	Archive     notes.Archive
	Tracker     *operation.Tracker
	Hub         *monitor.Hub
	Relays      []SubscriberFactory
}

// Service is the conference orchestrator.
type Service struct {
	cfg         Config
	pool        *pool.Pool
	provisioner Provisioner
	archive     notes.Archive
	tracker     *operation.Tracker
	hub         *monitor.Hub
	relays      []SubscriberFactory
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   conc.WaitGroup
}

// New creates a Service. Missing tracker, hub or archive are replaced with
// in-memory defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = def.DefaultTimeLimit
	}
	if cfg.MaxTimeLimit <= 0 {
		cfg.MaxTimeLimit = def.MaxTimeLimit
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = def.AsyncTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if deps.Tracker == nil {
		deps.Tracker = operation.NewTracker()
	}
	if deps.Hub == nil {
		deps.Hub = monitor.NewHub()
	}
	if deps.Archive == nil {
		deps.Archive = notes.Discard{}
	}

	s := &Service{
		cfg:         cfg,
		pool:        deps.Pool,
		provisioner: deps.Provisioner,
		archive:     deps.Archive,
		tracker:     deps.Tracker,
		hub:         deps.Hub,
		relays:      deps.Relays,
		logger:      logger.With("component", "conference"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Solve runs a general problem to completion under ctx.
func (s *Service) Solve(ctx context.Context, problem protocol.Problem, opts protocol.SolveOptions) (*protocol.Deliverable[protocol.GeneralResult], error) {
	return solve[protocol.GeneralResult](ctx, s, problem, opts)
}

// Evaluate runs an evaluation to completion under ctx.
func (s *Service) Evaluate(ctx context.Context, eval protocol.Evaluation, opts protocol.SolveOptions) (*protocol.Deliverable[protocol.EvaluationResult], error) {
	return solve[protocol.EvaluationResult](ctx, s, eval.Problem(), opts)
}

// SolveAsync starts a general problem in the background and returns its
// operation immediately.
func (s *Service) SolveAsync(ctx context.Context, problem protocol.Problem, opts protocol.SolveOptions) (protocol.Operation, error) {
	return solveAsync[protocol.GeneralResult](ctx, s, problem, opts)
}

// EvaluateAsync starts an evaluation in the background.
func (s *Service) EvaluateAsync(ctx context.Context, eval protocol.Evaluation, opts protocol.SolveOptions) (protocol.Operation, error) {
	return solveAsync[protocol.EvaluationResult](ctx, s, eval.Problem(), opts)
}

// Operation returns the state of a background conference.
func (s *Service) Operation(ctx context.Context, id string) (protocol.Operation, error) {
	return s.tracker.Get(ctx, id)
}

// Events drains the buffered events of a background conference.
func (s *Service) Events(id string) ([]protocol.RoomEvent, error) {
	return s.hub.Flush(id)
}

// Live returns the monitor of a background conference that is still running.
func (s *Service) Live(id string) (*monitor.Monitor, bool) {
	return s.hub.Live(id)
}

// Shutdown cancels background conferences and waits for them to record
// their outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) validate(problem protocol.Problem, opts protocol.SolveOptions) (protocol.SolveOptions, error) {
	if strings.TrimSpace(problem.Statement) == "" {
		return opts, ErrInvalidProblem
	}
	if len(opts.Attendees) == 0 {
		return opts, ErrNoAttendees
	}
	if opts.TimeLimit == 0 {
		opts.TimeLimit = s.cfg.DefaultTimeLimit
	}
	if opts.TimeLimit < 0 || opts.TimeLimit >= s.cfg.MaxTimeLimit {
		return opts, fmt.Errorf("%w: %s must be positive and below %s", ErrTimeLimit, opts.TimeLimit, s.cfg.MaxTimeLimit)
	}
	return opts, nil
}

func (s *Service) newMonitor(id string) *monitor.Monitor {
	return monitor.New(
		monitor.WithID(id),
		monitor.WithQueueSize(s.cfg.QueueSize),
		monitor.WithMailboxSize(s.cfg.MailboxSize),
		monitor.WithLogger(s.logger),
	)
}

// attach subscribes the logging and relay subscribers. Failures are logged.
func (s *Service) attach(ctx context.Context, m *monitor.Monitor) {
	var subs []monitor.Subscriber
	if s.cfg.LogEvents {
		subs = append(subs, monitor.NewLoggingSubscriber("log-"+m.ID(), s.logger))
	}
	for _, f := range s.relays {
		if sub := f(m.ID()); sub != nil {
			subs = append(subs, sub)
		}
	}
	for _, sub := range subs {
		if _, err := m.Subscribe(ctx, sub); err != nil {
			s.logger.Warn("attach subscriber", "monitor", m.ID(), "subscriber", sub.ID(), "error", err)
		}
	}
}

func (s *Service) closeMonitor(m *monitor.Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		s.logger.Warn("monitor close", "monitor", m.ID(), "error", err)
	}
}

// newSubscriberID names ephemeral subscribers.
func newSubscriberID() string { return uuid.NewString() }

// Watch subscribes sub to the live monitor of a running background
// conference.
func (s *Service) Watch(ctx context.Context, monitorID string, sub monitor.Subscriber) (*monitor.Subscription, error) {
	m, ok := s.hub.Live(monitorID)
	if !ok {
		return nil, monitor.ErrNotFound
	}
	return m.Subscribe(ctx, sub)
}
