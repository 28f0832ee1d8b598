package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// MemorySubscriber buffers events until they are flushed.
type MemorySubscriber struct {
	id string

	mu        sync.Mutex
	events    []protocol.RoomEvent
	completed bool
	err       error
}

// NewMemorySubscriber creates an empty buffer.
func NewMemorySubscriber(id string) *MemorySubscriber {
	return &MemorySubscriber{id: id}
}

func (s *MemorySubscriber) ID() string { return s.id }

func (s *MemorySubscriber) OnEvent(ctx context.Context, ev protocol.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Clone())
	return nil
}

func (s *MemorySubscriber) OnCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

func (s *MemorySubscriber) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.completed = true
}

// Flush returns copies of the events received since the last flush and
// clears the buffer.
func (s *MemorySubscriber) Flush() []protocol.RoomEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.RoomEvent, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Clone()
	}
	s.events = nil
	return out
}

// Pending returns the number of buffered events.
func (s *MemorySubscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Completed reports whether the subscription has ended.
func (s *MemorySubscriber) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Err returns the error the subscription ended with, if any.
func (s *MemorySubscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LoggingSubscriber writes every event to a logger.
type LoggingSubscriber struct {
	id     string
	logger *slog.Logger
}

// NewLoggingSubscriber creates a subscriber logging at debug level.
func NewLoggingSubscriber(id string, logger *slog.Logger) *LoggingSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSubscriber{id: id, logger: logger.With("component", "room-events")}
}

func (s *LoggingSubscriber) ID() string { return s.id }

func (s *LoggingSubscriber) OnEvent(ctx context.Context, ev protocol.RoomEvent) error {
	attrs := []any{"kind", string(ev.Kind)}
	for _, k := range []string{protocol.PropActor, protocol.PropMessage, protocol.PropAttendeeCount, protocol.PropID} {
		if v, ok := ev.Properties[k]; ok {
			attrs = append(attrs, k, v)
		}
	}
	s.logger.DebugContext(ctx, "room event", attrs...)
	return nil
}

func (s *LoggingSubscriber) OnCompleted() {
	s.logger.Debug("room event stream completed")
}

func (s *LoggingSubscriber) OnError(err error) {
	s.logger.Warn("room event stream failed", "error", err)
}

// Func adapts a function to a Subscriber that ignores completion.
type Func struct {
	Name string
	Fn   func(ctx context.Context, ev protocol.RoomEvent) error
}

func (f Func) ID() string { return f.Name }

func (f Func) OnEvent(ctx context.Context, ev protocol.RoomEvent) error { return f.Fn(ctx, ev) }

func (f Func) OnCompleted() {}

func (f Func) OnError(error) {}
