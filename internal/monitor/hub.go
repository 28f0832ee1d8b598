package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// ErrNotFound is returned for unknown monitor ids.
var ErrNotFound = errors.New("monitor: not found")

type buffer struct {
	sub       *MemorySubscriber
	createdAt time.Time
}

// Hub is the directory of monitors reachable by id: buffered subscribers
// polled by clients, and monitors that are still live.
type Hub struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	live    map[string]*Monitor
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		buffers: make(map[string]*buffer),
		live:    make(map[string]*Monitor),
		now:     time.Now,
	}
}

// NewBuffer registers a memory subscriber under id.
func (h *Hub) NewBuffer(id string) (*MemorySubscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.buffers[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, id)
	}
	sub := NewMemorySubscriber(id)
	h.buffers[id] = &buffer{sub: sub, createdAt: h.now()}
	return sub, nil
}

// Flush drains the buffer registered under id. Once the subscription has
// completed and everything has been handed out, the buffer is torn down
// and later calls return ErrNotFound.
func (h *Hub) Flush(id string) ([]protocol.RoomEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.buffers[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Read completion first so events delivered before it are included.
	completed := b.sub.Completed()
	events := b.sub.Flush()
	if completed {
		delete(h.buffers, id)
	}
	return events, nil
}

// Remove drops a buffer regardless of its state.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buffers, id)
}

// Sweep removes buffers older than maxAge and returns how many were removed.
func (h *Hub) Sweep(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-maxAge)
	n := 0
	for id, b := range h.buffers {
		if b.createdAt.Before(cutoff) && b.sub.Completed() {
			delete(h.buffers, id)
			n++
		}
	}
	return n
}

// Buffers returns the number of registered buffers.
func (h *Hub) Buffers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

// Track makes a live monitor reachable by its id.
func (h *Hub) Track(m *Monitor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live[m.ID()] = m
}

// Untrack forgets a live monitor.
func (h *Hub) Untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, id)
}

// Live returns the running monitor registered under id.
func (h *Hub) Live(id string) (*Monitor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.live[id]
	return m, ok
}
