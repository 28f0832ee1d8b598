package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []protocol.RoomEvent
}

func (r *recorder) Publish(ctx context.Context, ev protocol.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []protocol.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) count(kind protocol.EventKind, actor string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && (actor == "" || ev.Prop(protocol.PropActor) == actor) {
			n++
		}
	}
	return n
}

// speakers records the order in which attendees were asked to speak.
type speakers struct {
	mu    sync.Mutex
	order []string
}

func (s *speakers) add(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, name)
	return len(s.order)
}

func (s *speakers) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func newAttendees(log *speakers, names ...string) []*attendee.Attendee {
	out := make([]*attendee.Attendee, len(names))
	for i, name := range names {
		out[i] = attendee.New(name, "test-model", attendee.ResponderFunc(func(ctx context.Context, req attendee.Request) (json.RawMessage, error) {
			if log != nil {
				log.add(name)
			}
			return json.Marshal(map[string]string{"point": "from " + name, "answer": name})
		}))
	}
	return out
}

func newRoom(t *testing.T, capacity int) (*Room, *recorder) {
	t.Helper()
	r, err := NewRoundRobin(capacity, WithPacing(time.Millisecond))
	require.NoError(t, err)
	rec := &recorder{}
	r.SetMonitor(rec)
	return r, rec
}

var problem = protocol.Problem{Statement: "Which fruit is best?"}

func TestNewRejectsBadCapacity(t *testing.T) {
	_, err := NewRoundRobin(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestSetupFromEmptyOnly(t *testing.T) {
	r, rec := newRoom(t, 3)
	require.Equal(t, StatusEmpty, r.Status())

	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(nil, "Apple", "Banana")))
	assert.Equal(t, StatusActive, r.Status())
	assert.Len(t, r.Attendees(), 2)
	assert.NotNil(t, r.Notes())

	assert.Equal(t, 3, rec.count(protocol.EventSetup, ""))
	assert.Equal(t, "2", rec.events[0].Prop(protocol.PropAttendeeCount))
	assert.Equal(t, "Attendee has joined the room.", rec.events[1].Prop(protocol.PropMessage))

	// A second setup fails and keeps the first one intact.
	err := r.Setup(context.Background(), protocol.Problem{Statement: "other"}, newAttendees(nil, "Cherry"))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusActive, r.Status())
	got, _ := r.Problem()
	assert.Equal(t, problem.Statement, got.Statement)
	assert.Len(t, r.Attendees(), 2)
}

func TestSetupValidation(t *testing.T) {
	r, _ := newRoom(t, 2)

	err := r.Setup(context.Background(), problem, newAttendees(nil, "a", "b", "c"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, StatusEmpty, r.Status())

	assert.ErrorIs(t, r.Setup(context.Background(), protocol.Problem{}, newAttendees(nil, "a")), ErrNoProblem)
	assert.ErrorIs(t, r.Setup(context.Background(), problem, nil), ErrNoAttendees)
	assert.Equal(t, StatusEmpty, r.Status())
}

func TestConcurrentSetupHasOneWinner(t *testing.T) {
	r, _ := newRoom(t, 1)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Setup(context.Background(), problem, newAttendees(nil, "a")) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRoundRobinFairness(t *testing.T) {
	r, _ := newRoom(t, 3)
	log := &speakers{}
	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(log, "Apple", "Banana", "Cherry")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.KickOff(ctx) }()

	require.Eventually(t, func() bool { return len(log.snapshot()) >= 6 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	order := log.snapshot()[:6]
	assert.ElementsMatch(t, []string{"Apple", "Banana", "Cherry"}, order[:3])
	assert.Equal(t, order[:3], order[3:6])
	assert.Equal(t, []string{"Apple", "Banana", "Cherry"}, order[:3])
}

func TestKickOffExpiredBudgetStillCloses(t *testing.T) {
	r, rec := newRoom(t, 3)
	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(nil, "Apple", "Banana", "Cherry")))

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.KickOff(expired)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusInDiscussion, r.Status())

	d, n, err := Close[protocol.GeneralResult](context.Background(), r)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.NotEmpty(t, d.ID)
	require.Len(t, d.Items, 3)
	assert.Equal(t, "Apple", d.Items[0].Answer)
	assert.Equal(t, "Cherry", d.Items[2].Answer)

	assert.Equal(t, StatusClosing, r.Status())
	assert.Nil(t, r.Notes(), "notes must be detached")
	require.NotNil(t, n)
	// opening + closing + three final answers
	assert.Equal(t, 5, n.Len())

	assert.Equal(t, 1, rec.count(protocol.EventClose, Facilitator))
	assert.Equal(t, 4, rec.count(protocol.EventClose, ""))
}

func TestDiscussionEvents(t *testing.T) {
	r, rec := newRoom(t, 2)
	attendees := newAttendees(nil, "Apple", "Banana")
	require.NoError(t, r.Setup(context.Background(), problem, attendees))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.KickOff(ctx) }()

	require.Eventually(t, func() bool {
		return rec.count(protocol.EventInDiscussion, attendees[1].String()) >= 1
	}, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	kinds := rec.kinds()
	assert.Equal(t, protocol.EventKickOff, kinds[3])
	assert.Equal(t, 1, rec.count(protocol.EventKickOff, Facilitator))
	assert.GreaterOrEqual(t, rec.count(protocol.EventInDiscussion, Facilitator), 2)
	assert.False(t, attendees[0].LastSpokeAt().IsZero())

	n := r.Notes()
	entries := n.ReadAll(time.Time{})
	assert.Equal(t, Facilitator, entries[0].Actor)
	assert.Contains(t, entries[0].Content, "-------------Problem:")
	assert.Equal(t, "Apple", entries[1].Actor)
	assert.JSONEq(t, `{"point":"from Apple"}`, entries[1].Content)
}

func TestFailingAttendeeIsSkipped(t *testing.T) {
	r, _ := newRoom(t, 2)
	mute := attendee.New("Mute", "m", attendee.ResponderFunc(func(context.Context, attendee.Request) (json.RawMessage, error) {
		return nil, errors.New("provider down")
	}))
	log := &speakers{}
	attendees := append([]*attendee.Attendee{mute}, newAttendees(log, "Talker")...)
	require.NoError(t, r.Setup(context.Background(), problem, attendees))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.KickOff(ctx) }()
	require.Eventually(t, func() bool { return len(log.snapshot()) >= 2 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	d, _, err := Close[protocol.GeneralResult](context.Background(), r)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, "Talker", d.Items[0].Answer)
}

func TestLifecycleViolations(t *testing.T) {
	r, _ := newRoom(t, 1)

	assert.ErrorIs(t, r.KickOff(context.Background()), ErrInvalidState)
	_, _, err := Close[protocol.GeneralResult](context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusEmpty, r.Status())
}

func TestResetFromAnyState(t *testing.T) {
	r, rec := newRoom(t, 1)
	oldID := r.ID()
	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(nil, "a")))

	require.NoError(t, r.Reset(context.Background()))
	assert.Equal(t, StatusEmpty, r.Status())
	assert.NotEqual(t, oldID, r.ID())
	assert.Nil(t, r.Notes())
	assert.Nil(t, r.Attendees())
	_, ok := r.Problem()
	assert.False(t, ok)

	// The monitor is detached: a new conference publishes nowhere.
	before := len(rec.kinds())
	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(nil, "b")))
	assert.Len(t, rec.kinds(), before)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Reset(ctx), context.Canceled)
}

func TestResetStopsRunningDiscussion(t *testing.T) {
	r, _ := newRoom(t, 1)
	require.NoError(t, r.Setup(context.Background(), problem, newAttendees(nil, "a")))

	done := make(chan error, 1)
	go func() { done <- r.KickOff(context.Background()) }()
	require.Eventually(t, func() bool { return r.Status() == StatusInDiscussion }, time.Second, time.Millisecond)

	r.Dispose()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispose did not stop the discussion")
	}
}
