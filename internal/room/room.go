// Package room hosts a single conference: a strict lifecycle state machine
// around a turn loop whose speaking order is decided by a Strategy.
//
// Lifecycle: Empty → Active (Setup) → InDiscussion (KickOff) → Closing
// (Conclude) → Closed → Empty (Reset). Every transition is a single
// compare-and-swap on the status register; concurrent callers racing the
// same transition see exactly one winner.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/pkg/protocol"
)

var (
	ErrInvalidState     = errors.New("room: invalid state")
	ErrCapacityExceeded = errors.New("room: attendee count exceeds capacity")
	ErrNoAttendees      = errors.New("room: no attendees")
	ErrNoProblem        = errors.New("room: no problem")
	ErrInvalidCapacity  = errors.New("room: capacity must be positive")
)

// Facilitator is the actor name the room itself speaks as.
const Facilitator = "Facilitator"

const (
	// DefaultPacing is the delay between two turns.
	DefaultPacing = time.Second

	openingStatement = "Welcome, everyone! In this room all attendees work together to solve a problem. " +
		"Each of you will get the chance to share your thoughts and to challenge the views of others with reasoning and evidence. " +
		"Here is the problem we are solving today: "
	closingStatement = "The discussion needs to be concluded. Thank you all for your contributions! " +
		"Everyone now has one final chance to give a final deliverable for the original problem."
)

// Publisher receives the room's events. *monitor.Monitor satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev protocol.RoomEvent) error
}

// Collector asks one attendee for its final contribution over the given
// transcript and returns it serialized, or ok=false if there is none.
type Collector func(ctx context.Context, a *attendee.Attendee, transcript string) (content string, ok bool)

// Turn is one attendee contribution during the discussion.
type Turn struct {
	Speaker *attendee.Attendee
	Content string
}

// Strategy decides how a discussion opens, who speaks next and how it is
// wrapped up.
type Strategy interface {
	Open(ctx context.Context, r *Room) error
	// Next returns the next contribution, or nil when there is none this tick.
	Next(ctx context.Context, r *Room) (*Turn, error)
	Finalize(ctx context.Context, r *Room, collect Collector) error
	Reset()
}

// Room is a reusable conference host with a fixed capacity.
type Room struct {
	capacity int
	strategy Strategy
	pacing   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	status  atomic.Int32
	id      atomic.Pointer[string]
	problem atomic.Pointer[protocol.Problem]
	notes   atomic.Pointer[notes.Notes]

	mu        sync.Mutex
	attendees []*attendee.Attendee
	monitor   Publisher
	scope     context.Context
	cancel    context.CancelFunc
}

// Option configures a Room.
type Option func(*Room)

// WithPacing sets the delay between turns.
func WithPacing(d time.Duration) Option {
	return func(r *Room) { r.pacing = d }
}

// WithClock overrides the time source for notes and speaking times.
func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Room) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty room driven by s.
func New(capacity int, s Strategy, opts ...Option) (*Room, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	r := &Room{
		capacity: capacity,
		strategy: s,
		pacing:   DefaultPacing,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "room")
	r.setID()
	return r, nil
}

// NewRoundRobin creates an empty room in which attendees speak in turn.
func NewRoundRobin(capacity int, opts ...Option) (*Room, error) {
	return New(capacity, &RoundRobin{}, opts...)
}

func (r *Room) setID() {
	id := uuid.NewString()
	r.id.Store(&id)
}

// ID returns the room's current identity. It changes on every Reset.
func (r *Room) ID() string { return *r.id.Load() }

// Capacity returns the maximum number of attendees.
func (r *Room) Capacity() int { return r.capacity }

// Status returns the current lifecycle phase.
func (r *Room) Status() Status { return Status(r.status.Load()) }

func (r *Room) tryTransition(from, to Status) bool {
	if from == to {
		return false
	}
	return r.status.CompareAndSwap(int32(from), int32(to))
}

// Problem returns the problem under discussion.
func (r *Room) Problem() (protocol.Problem, bool) {
	p := r.problem.Load()
	if p == nil {
		return protocol.Problem{}, false
	}
	return *p, true
}

// Attendees returns a snapshot of the roster.
func (r *Room) Attendees() []*attendee.Attendee {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attendees == nil {
		return nil
	}
	out := make([]*attendee.Attendee, len(r.attendees))
	copy(out, r.attendees)
	return out
}

// Notes returns the live transcript, or nil outside a conference.
func (r *Room) Notes() *notes.Notes { return r.notes.Load() }

// SetMonitor attaches the publisher that receives the room's events.
func (r *Room) SetMonitor(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor = p
}

// Setup seats the attendees and installs the problem. It requires an
// empty room and leaves it active.
func (r *Room) Setup(ctx context.Context, problem protocol.Problem, attendees []*attendee.Attendee) error {
	if problem.Statement == "" {
		return ErrNoProblem
	}
	if len(attendees) == 0 {
		return ErrNoAttendees
	}
	if len(attendees) > r.capacity {
		return fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, len(attendees), r.capacity)
	}
	if !r.tryTransition(StatusEmpty, StatusActive) {
		return fmt.Errorf("%w: cannot set up a room that is %s", ErrInvalidState, r.Status())
	}

	r.emit(ctx, protocol.EventSetup, map[string]string{
		protocol.PropMessage:       "Room setup initiated.",
		protocol.PropAttendeeCount: strconv.Itoa(len(attendees)),
		protocol.PropProblem:       problem.Statement,
	})
	for _, a := range attendees {
		r.emit(ctx, protocol.EventSetup, map[string]string{
			protocol.PropActor:   a.String(),
			protocol.PropID:      a.ID,
			protocol.PropMessage: "Attendee has joined the room.",
		})
	}

	scope, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.scope, r.cancel = scope, cancel
	r.attendees = append([]*attendee.Attendee(nil), attendees...)
	r.mu.Unlock()

	r.notes.Store(notes.New(notes.WithClock(r.now)))
	r.problem.Store(&problem)

	r.logger.Info("room set up", "room", r.ID(), "attendees", len(attendees))
	return nil
}

// KickOff opens the discussion and runs the turn loop until ctx or the
// room's own scope is cancelled. It always returns a non-nil error: the
// cancellation that ended the loop.
func (r *Room) KickOff(ctx context.Context) error {
	if !r.tryTransition(StatusActive, StatusInDiscussion) {
		return fmt.Errorf("%w: cannot kick off a room that is %s", ErrInvalidState, r.Status())
	}

	ctx, stop := r.link(ctx)
	defer stop()

	n := r.notes.Load()
	r.logger.Info("discussion started", "room", r.ID())

	if err := r.strategy.Open(ctx, r); err != nil {
		return err
	}

	timer := time.NewTimer(r.pacing)
	defer timer.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		turn, err := r.strategy.Next(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Debug("turn produced no contribution", "room", r.ID(), "error", err)
		}
		if turn != nil {
			if _, err := n.Append(turn.Speaker.Name, turn.Content); err == nil {
				r.emit(ctx, protocol.EventInDiscussion, map[string]string{
					protocol.PropActor:   turn.Speaker.String(),
					protocol.PropID:      turn.Speaker.ID,
					protocol.PropMessage: turn.Content,
				})
				turn.Speaker.SetLastSpokeAt(r.now())
			}
		}

		timer.Reset(r.pacing)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Conclude moves the discussion to closing, lets the strategy collect the
// final contributions and detaches the transcript. The room keeps no
// reference to the returned notes.
func (r *Room) Conclude(ctx context.Context, collect Collector) (*notes.Notes, error) {
	if !r.tryTransition(StatusInDiscussion, StatusClosing) {
		return nil, fmt.Errorf("%w: cannot close a room that is %s", ErrInvalidState, r.Status())
	}

	ctx, stop := r.link(ctx)
	defer stop()

	err := r.strategy.Finalize(ctx, r, collect)
	n := r.notes.Swap(nil)
	if n != nil {
		r.logger.Info("discussion closed", "room", r.ID(), "entries", n.Len())
	}
	return n, err
}

// Reset returns the room to Empty from any state with a new identity.
func (r *Room) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.scope, r.cancel = nil, nil
	r.status.Store(int32(StatusClosed))
	r.attendees = nil
	r.monitor = nil
	r.mu.Unlock()

	r.notes.Store(nil)
	r.problem.Store(nil)
	r.strategy.Reset()
	r.setID()
	r.status.Store(int32(StatusEmpty))
	return nil
}

// Dispose cancels the room's scope without resetting it.
func (r *Room) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// link derives a context cancelled by either ctx or the room's scope.
func (r *Room) link(ctx context.Context) (context.Context, func()) {
	r.mu.Lock()
	scope := r.scope
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if scope == nil {
		cancel()
		return ctx, func() {}
	}
	stop := context.AfterFunc(scope, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// emit publishes an event to the attached monitor, if any. Publishing
// failures never fail the room.
func (r *Room) emit(ctx context.Context, kind protocol.EventKind, props map[string]string) {
	r.mu.Lock()
	m := r.monitor
	r.mu.Unlock()
	if m == nil {
		return
	}
	if err := m.Publish(ctx, protocol.NewRoomEvent(kind, props)); err != nil && ctx.Err() == nil {
		r.logger.Warn("publish room event", "room", r.ID(), "kind", string(kind), "error", err)
	}
}

// say appends a facilitator line to the notes and publishes it.
func (r *Room) say(ctx context.Context, kind protocol.EventKind, content string) {
	if n := r.notes.Load(); n != nil {
		_, _ = n.Append(Facilitator, content)
	}
	r.emit(ctx, kind, map[string]string{
		protocol.PropActor:   Facilitator,
		protocol.PropMessage: content,
	})
}
