// Package pool recycles rooms keyed by kind and capacity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/h1v3-io/agora/internal/room"
)

var (
	ErrUnsupportedKind = errors.New("pool: unsupported room kind")
	ErrReleased        = errors.New("pool: room already released")
	ErrClosed          = errors.New("pool: closed")
)

// Kind selects the turn strategy of a room.
type Kind string

const (
	RoundRobin Kind = "round_robin"
	FreeFloor  Kind = "free_floor"
)

// Key buckets interchangeable rooms.
type Key struct {
	Kind     Kind
	Capacity int
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Kind, k.Capacity) }

// Stats counts pool activity.
type Stats struct {
	Created   uint64
	Reused    uint64
	Discarded uint64
}

// Pool hands out rooms and takes them back once a conference is over.
type Pool struct {
	logger   *slog.Logger
	roomOpts []room.Option

	mu     sync.Mutex
	free   map[Key][]*room.Room
	closed bool

	// reset prepares a returned room for reuse.
	reset func(r *room.Room) error

	created, reused, discarded atomic.Uint64
}

// New creates an empty pool. roomOpts apply to every room it constructs.
func New(logger *slog.Logger, roomOpts ...room.Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:   logger.With("component", "pool"),
		roomOpts: roomOpts,
		free:     make(map[Key][]*room.Room),
		reset: func(r *room.Room) error {
			return r.Reset(context.Background())
		},
	}
}

// Acquire returns an idle room for key, constructing one if none is free.
func (p *Pool) Acquire(key Key) (*Handle, error) {
	if key.Capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", room.ErrInvalidCapacity, key.Capacity)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	var r *room.Room
	if bucket := p.free[key]; len(bucket) > 0 {
		r = bucket[len(bucket)-1]
		p.free[key] = bucket[:len(bucket)-1]
	}
	p.mu.Unlock()

	if r != nil {
		p.reused.Add(1)
		return &Handle{pool: p, key: key, room: r}, nil
	}

	r, err := p.construct(key)
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	p.logger.Debug("room created", "key", key.String(), "room", r.ID())
	return &Handle{pool: p, key: key, room: r}, nil
}

func (p *Pool) construct(key Key) (*room.Room, error) {
	switch key.Kind {
	case RoundRobin:
		opts := append([]room.Option{room.WithLogger(p.logger)}, p.roomOpts...)
		return room.NewRoundRobin(key.Capacity, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, key.Kind)
	}
}

// giveBack resets r and returns it to its bucket, or discards it when the
// reset fails or the pool is closed. Failures are logged, never returned.
func (p *Pool) giveBack(key Key, r *room.Room) {
	if err := p.reset(r); err != nil || r.Status() != room.StatusEmpty {
		p.discarded.Add(1)
		p.logger.Warn("room reset failed, discarding", "key", key.String(), "room", r.ID(), "error", err)
		r.Dispose()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		r.Dispose()
		return
	}
	p.free[key] = append(p.free[key], r)
}

// Idle returns the number of free rooms for key.
func (p *Pool) Idle(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[key])
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	return Stats{Created: p.created.Load(), Reused: p.reused.Load(), Discarded: p.discarded.Load()}
}

// Close disposes every idle room. Rooms released afterwards are disposed
// instead of being pooled.
func (p *Pool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[Key][]*room.Room)
	p.closed = true
	p.mu.Unlock()

	n := 0
	for _, bucket := range free {
		for _, r := range bucket {
			r.Dispose()
			n++
		}
	}
	p.logger.Info("pool closed", "disposed", n)
}
