package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	m        *Monitor
	sub      Subscriber
	ctx      context.Context
	cancel   context.CancelCauseFunc
	stopLink func() bool
	mailbox  chan protocol.RoomEvent
	exited   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	once      sync.Once
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.sub.ID() }

// Close removes the subscriber and waits for its completion callback.
// It must not be called from the subscriber's own callbacks, which run on
// the goroutine Close waits for; use Cancel there.
func (s *Subscription) Close() {
	s.Cancel()
	<-s.exited
}

// Cancel removes the subscriber without waiting. The completion callback
// runs once the current delivery, if any, returns.
func (s *Subscription) Cancel() {
	s.m.remove(s)
	s.cancel(nil)
}

// Done is closed once the subscriber has been notified of completion or error.
func (s *Subscription) Done() <-chan struct{} { return s.exited }

func (s *Subscription) run() {
	defer close(s.exited)

	for {
		// Cancellation wins over pending events.
		select {
		case <-s.ctx.Done():
			s.cancelled()
			return
		default:
		}

		select {
		case ev, ok := <-s.mailbox:
			if !ok {
				s.finish(s.m.fault)
				return
			}
			if err := s.deliver(ev); err != nil {
				if s.ctx.Err() != nil {
					s.cancelled()
					return
				}
				s.m.remove(s)
				s.m.logger.Warn("subscriber failed, removing", "subscriber", s.sub.ID(), "error", err)
				s.finish(err)
				return
			}
			s.delivered.Add(1)
		case <-s.ctx.Done():
			s.cancelled()
			return
		}
	}
}

// cancelled ends a subscription whose context is done. An overflowed
// mailbox is reported as an error, anything else as completion.
func (s *Subscription) cancelled() {
	s.m.remove(s)
	if cause := context.Cause(s.ctx); errors.Is(cause, ErrSlowSubscriber) {
		s.finish(cause)
		return
	}
	s.finish(nil)
}

func (s *Subscription) deliver(ev protocol.RoomEvent) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = s.sub.OnEvent(s.ctx, ev.Clone()) })
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.stopLink()
		s.cancel(nil)
		r := panics.Try(func() {
			if err != nil {
				s.sub.OnError(err)
			} else {
				s.sub.OnCompleted()
			}
		})
		if r != nil {
			s.m.logger.Warn("subscriber completion callback panicked", "subscriber", s.sub.ID(), "panic", r.Value)
		}
	})
}
