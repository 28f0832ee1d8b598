package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/internal/pool"
	"github.com/h1v3-io/agora/internal/room"
	"github.com/h1v3-io/agora/pkg/protocol"
)

func solve[T any](ctx context.Context, s *Service, problem protocol.Problem, opts protocol.SolveOptions) (*protocol.Deliverable[T], error) {
	opts, err := s.validate(problem, opts)
	if err != nil {
		return nil, err
	}

	m := s.newMonitor("")
	defer s.closeMonitor(m)

	sub, err := m.Subscribe(ctx, monitor.NewMemorySubscriber(newSubscriberID()))
	if err != nil {
		return nil, fmt.Errorf("conference: subscribe: %w", err)
	}
	defer sub.Close()
	s.attach(ctx, m)

	return drive[T](ctx, s, problem, opts, m)
}

func solveAsync[T any](ctx context.Context, s *Service, problem protocol.Problem, opts protocol.SolveOptions) (protocol.Operation, error) {
	opts, err := s.validate(problem, opts)
	if err != nil {
		return protocol.Operation{}, err
	}
	if s.ctx.Err() != nil {
		return protocol.Operation{}, ErrShuttingDown
	}

	monitorID := newSubscriberID()
	buf, err := s.hub.NewBuffer(monitorID)
	if err != nil {
		return protocol.Operation{}, fmt.Errorf("conference: buffer: %w", err)
	}
	op, err := s.tracker.Create(ctx, monitorID)
	if err != nil {
		s.hub.Remove(monitorID)
		return protocol.Operation{}, fmt.Errorf("conference: create operation: %w", err)
	}

	// The monitor is live before the operation is handed out, so a client
	// can attach to the stream as soon as it has the id.
	m := s.newMonitor(monitorID)
	s.hub.Track(m)

	s.jobs.Go(func() { runAsync[T](s, op, problem, opts, m, buf) })
	s.logger.Info("conference started", "operation", op.ID, "monitor", monitorID, "attendees", len(opts.Attendees))
	return op, nil
}

// runAsync drives a background conference under its own timeout, detached
// from the request that started it, and records the single terminal
// outcome once every event has reached the buffer.
func runAsync[T any](s *Service, op protocol.Operation, problem protocol.Problem, opts protocol.SolveOptions, m *monitor.Monitor, buf *monitor.MemorySubscriber) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AsyncTimeout)
	defer cancel()
	defer s.hub.Untrack(m.ID())

	var (
		d   *protocol.Deliverable[T]
		err error
	)
	if _, err = m.Subscribe(ctx, buf); err == nil {
		s.attach(ctx, m)
		var pc panics.Catcher
		pc.Try(func() { d, err = drive[T](ctx, s, problem, opts, m) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
	}
	s.closeMonitor(m)

	final := protocol.Operation{ID: op.ID, Status: protocol.OperationFailed}
	if err == nil {
		if raw, merr := json.Marshal(d); merr != nil {
			err = merr
		} else {
			final.Status = protocol.OperationCompleted
			final.Result = raw
		}
	}
	if err != nil {
		s.logger.Error("conference failed", "operation", op.ID, "error", err)
	} else {
		s.logger.Info("conference completed", "operation", op.ID, "items", len(d.Items))
	}

	if uerr := s.tracker.Update(context.Background(), final); uerr != nil {
		s.logger.Error("record operation outcome", "operation", op.ID, "error", uerr)
	}
}

// drive runs one conference in a pooled room. Running out of time budget
// while the caller is still waiting is the normal way a discussion ends.
func drive[T any](ctx context.Context, s *Service, problem protocol.Problem, opts protocol.SolveOptions, m *monitor.Monitor) (*protocol.Deliverable[T], error) {
	h, err := s.pool.Acquire(pool.Key{Kind: pool.RoundRobin, Capacity: len(opts.Attendees)})
	if err != nil {
		return nil, fmt.Errorf("conference: acquire room: %w", err)
	}
	defer h.Release()

	attendees, err := s.provisioner.Provision(ctx, opts.Attendees)
	if err != nil {
		return nil, fmt.Errorf("conference: provision: %w", err)
	}
	if err := h.SetMonitor(m); err != nil {
		return nil, err
	}

	budget, cancel := context.WithTimeout(ctx, opts.TimeLimit)
	defer cancel()

	if err := h.Setup(ctx, problem, attendees); err != nil {
		return nil, fmt.Errorf("conference: setup: %w", err)
	}

	started := time.Now()
	if err := h.KickOff(budget); err != nil && !(budget.Err() != nil && ctx.Err() == nil) {
		return nil, fmt.Errorf("conference: discussion: %w", err)
	}
	s.logger.Debug("discussion ended", "room", h.ID(), "elapsed", time.Since(started))

	d, n, err := room.Close[T](ctx, h)
	if err != nil {
		return nil, fmt.Errorf("conference: close: %w", err)
	}
	d.Metadata = problem.Metadata

	if n != nil {
		if err := s.archive.Archive(ctx, n); err != nil {
			s.logger.Warn("archive transcript", "notes", n.ID(), "error", err)
		}
	}
	return d, nil
}
