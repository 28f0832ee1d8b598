package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// RoundRobin lets attendees speak one at a time in roster order. The queue
// is refilled from the roster whenever a round ends.
type RoundRobin struct {
	mu    sync.Mutex
	queue []*attendee.Attendee
}

func (s *RoundRobin) Open(ctx context.Context, r *Room) error {
	p, ok := r.Problem()
	if !ok {
		return ErrNoProblem
	}
	r.say(ctx, protocol.EventKickOff, openingStatement+p.ProblemString())
	return ctx.Err()
}

func (s *RoundRobin) Next(ctx context.Context, r *Room) (*Turn, error) {
	speaker := s.dequeue(r)
	if speaker == nil {
		return nil, nil
	}

	r.emit(ctx, protocol.EventInDiscussion, map[string]string{
		protocol.PropActor:   Facilitator,
		protocol.PropMessage: "Next speaker is " + speaker.Name,
	})

	n := r.Notes()
	if n == nil {
		return nil, nil
	}
	point, err := attendee.Speak[protocol.DiscussionPoint](ctx, speaker, notes.Transcript(n.ReadAll(speaker.LastSpokeAt())))
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(point)
	if err != nil {
		return nil, fmt.Errorf("room: encode turn: %w", err)
	}
	return &Turn{Speaker: speaker, Content: string(content)}, nil
}

// Finalize closes the floor and asks every attendee, not just those left
// in the current round, for a final contribution over the notes written
// since the closing statement.
func (s *RoundRobin) Finalize(ctx context.Context, r *Room, collect Collector) error {
	n := r.Notes()
	if n == nil {
		return fmt.Errorf("%w: no notes", ErrInvalidState)
	}

	cutoff := r.now()
	r.say(ctx, protocol.EventClose, closingStatement)

	for _, a := range r.Attendees() {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, ok := collect(ctx, a, notes.Transcript(n.ReadAll(cutoff)))
		if !ok {
			continue
		}
		if _, err := n.Append(a.Name, content); err != nil {
			continue
		}
		r.emit(ctx, protocol.EventClose, map[string]string{
			protocol.PropActor:   a.String(),
			protocol.PropID:      a.ID,
			protocol.PropMessage: content,
		})
	}
	return nil
}

func (s *RoundRobin) dequeue(r *Room) *attendee.Attendee {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.queue = r.Attendees()
	}
	if len(s.queue) == 0 {
		return nil
	}
	a := s.queue[0]
	s.queue = s.queue[1:]
	return a
}

func (s *RoundRobin) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}
