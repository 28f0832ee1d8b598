package pool

import (
	"context"
	"sync/atomic"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/internal/room"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// Handle is a leased room. Every call fails with ErrReleased once the
// lease has been returned.
type Handle struct {
	pool     *Pool
	key      Key
	room     *room.Room
	released atomic.Bool
}

// Key returns the bucket the room belongs to.
func (h *Handle) Key() Key { return h.key }

// ID returns the room's identity, or "" after release.
func (h *Handle) ID() string {
	if h.released.Load() {
		return ""
	}
	return h.room.ID()
}

// Status returns the room's phase, or StatusEmpty after release.
func (h *Handle) Status() room.Status {
	if h.released.Load() {
		return room.StatusEmpty
	}
	return h.room.Status()
}

// Attendees returns the room's roster, or nil after release.
func (h *Handle) Attendees() []*attendee.Attendee {
	if h.released.Load() {
		return nil
	}
	return h.room.Attendees()
}

func (h *Handle) SetMonitor(p room.Publisher) error {
	if h.released.Load() {
		return ErrReleased
	}
	h.room.SetMonitor(p)
	return nil
}

func (h *Handle) Setup(ctx context.Context, problem protocol.Problem, attendees []*attendee.Attendee) error {
	if h.released.Load() {
		return ErrReleased
	}
	return h.room.Setup(ctx, problem, attendees)
}

func (h *Handle) KickOff(ctx context.Context) error {
	if h.released.Load() {
		return ErrReleased
	}
	return h.room.KickOff(ctx)
}

func (h *Handle) Conclude(ctx context.Context, collect room.Collector) (*notes.Notes, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return h.room.Conclude(ctx, collect)
}

// Release returns the room to the pool. Only the first call has an effect.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.pool.giveBack(h.key, h.room)
}
