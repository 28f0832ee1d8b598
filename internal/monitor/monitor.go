// Package monitor broadcasts room events to independent subscribers.
//
// A Monitor owns one bounded ingress queue fed by a single room and one
// dispatch goroutine that copies each event into every subscriber's own
// mailbox. Each subscriber is served by its own worker, so a slow or
// failing subscriber never stalls the room, the dispatch loop, or its
// siblings. Backpressure applies only at Publish.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/h1v3-io/agora/pkg/protocol"
)

var (
	// ErrClosed is returned when publishing to or subscribing on a closed monitor.
	ErrClosed = errors.New("monitor: closed")
	// ErrDuplicateSubscriber is returned when a subscriber id is already registered.
	ErrDuplicateSubscriber = errors.New("monitor: subscriber already registered")
	// ErrSlowSubscriber is reported to a subscriber whose mailbox overflowed.
	ErrSlowSubscriber = errors.New("monitor: subscriber mailbox overflow")
)

const (
	DefaultQueueSize   = 100
	DefaultMailboxSize = 1024
)

// Subscriber observes a monitor's events. OnEvent is called from a single
// goroutine per subscriber, in publish order. Exactly one of OnCompleted or
// OnError is called once the subscription ends.
type Subscriber interface {
	ID() string
	OnEvent(ctx context.Context, ev protocol.RoomEvent) error
	OnCompleted()
	OnError(err error)
}

// Stats reports per-subscriber delivery counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Monitor is a bounded fan-out of room events.
type Monitor struct {
	id          string
	logger      *slog.Logger
	queue       chan protocol.RoomEvent
	mailboxSize int

	// pubMu lets Close wait out in-flight publishers before draining.
	pubMu sync.RWMutex
	done  chan struct{}
	stop  chan struct{}

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	loopDone  chan struct{}
	fault     error
	workers   conc.WaitGroup
	base      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	published atomic.Uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithQueueSize sets the ingress queue capacity.
func WithQueueSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.queue = make(chan protocol.RoomEvent, n)
		}
	}
}

// WithMailboxSize sets the per-subscriber mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.mailboxSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithID overrides the generated monitor id.
func WithID(id string) Option {
	return func(m *Monitor) {
		if id != "" {
			m.id = id
		}
	}
}

// New creates a monitor and starts its dispatch loop.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		id:          uuid.NewString(),
		logger:      slog.Default(),
		queue:       make(chan protocol.RoomEvent, DefaultQueueSize),
		mailboxSize: DefaultMailboxSize,
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
		subs:        make(map[string]*Subscription),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor", "monitor_id", m.id)
	m.base, m.cancel = context.WithCancel(context.Background())

	go m.run()
	return m
}

// ID returns the monitor's identity.
func (m *Monitor) ID() string { return m.id }

// Published returns the number of events accepted by Publish.
func (m *Monitor) Published() uint64 { return m.published.Load() }

// Publish enqueues an event, blocking while the queue is full.
func (m *Monitor) Publish(ctx context.Context, ev protocol.RoomEvent) error {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.queue <- ev.Clone():
		m.published.Add(1)
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers sub until ctx is cancelled, the returned
// subscription is closed, or the monitor shuts down.
func (m *Monitor) Subscribe(ctx context.Context, sub Subscriber) (*Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("monitor: subscribe: nil subscriber")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.subs[sub.ID()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, sub.ID())
	}

	s := &Subscription{
		m:       m,
		sub:     sub,
		mailbox: make(chan protocol.RoomEvent, m.mailboxSize),
		exited:  make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancelCause(m.base)
	s.stopLink = context.AfterFunc(ctx, func() { s.cancel(nil) })
	m.subs[sub.ID()] = s

	m.workers.Go(s.run)
	m.logger.Debug("subscriber added", "subscriber", sub.ID())
	return s, nil
}

// Stats returns delivery counters for a registered subscriber.
func (m *Monitor) Stats(id string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return Stats{}, false
	}
	return Stats{Delivered: s.delivered.Load(), Dropped: s.dropped.Load()}, true
}

// Subscribers returns the number of registered subscribers.
func (m *Monitor) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close stops accepting events, delivers everything already queued, and
// notifies every remaining subscriber. If ctx ends before the subscribers
// finish, their contexts are cancelled and ctx's error is returned.
func (m *Monitor) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.pubMu.Lock()
		close(m.stop)
		m.pubMu.Unlock()
		<-m.loopDone

		m.mu.Lock()
		m.closed = true
		for id, s := range m.subs {
			close(s.mailbox)
			delete(m.subs, id)
		}
		m.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			m.workers.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			m.logger.Warn("subscribers did not finish before close deadline")
			err = ctx.Err()
		}
		m.cancel()
	})
	return err
}

func (m *Monitor) run() {
	defer close(m.loopDone)

	var pc panics.Catcher
	pc.Try(m.loop)
	if r := pc.Recovered(); r != nil {
		m.fault = r.AsError()
		m.logger.Error("dispatch loop faulted", "error", m.fault)
	}
}

func (m *Monitor) loop() {
	for {
		select {
		case ev := <-m.queue:
			m.broadcast(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.broadcast(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) broadcast(ev protocol.RoomEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subs {
		if s.ctx.Err() != nil {
			s.dropped.Add(1)
			continue
		}
		select {
		case s.mailbox <- ev:
		default:
			// The worker removes the subscriber and reports the overflow.
			s.dropped.Add(1)
			s.cancel(ErrSlowSubscriber)
			m.logger.Warn("subscriber mailbox full", "subscriber", s.sub.ID())
		}
	}
}

func (m *Monitor) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.subs[s.sub.ID()]; ok && cur == s {
		delete(m.subs, s.sub.ID())
	}
}
