// Package operation tracks conferences running in the background.
package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// ErrNotFound is returned for unknown operation ids.
var ErrNotFound = errors.New("operation: not found")

// Tracker is an in-memory store of operations. Records are copied in and
// out; callers never share a record with the tracker.
type Tracker struct {
	mu  sync.RWMutex
	ops map[string]protocol.Operation
	now func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ops: make(map[string]protocol.Operation),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new operation bound to monitorID.
func (t *Tracker) Create(ctx context.Context, monitorID string) (protocol.Operation, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Operation{}, err
	}
	now := t.now()
	op := protocol.Operation{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Status:    protocol.OperationCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops[op.ID] = op
	return op.Clone(), nil
}

// Update overwrites the status and result of an existing operation. The
// last write wins; identity and monitor id never change.
func (t *Tracker) Update(ctx context.Context, op protocol.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.ops[op.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, op.ID)
	}
	cur.Status = op.Status
	cur.Result = op.Clone().Result
	cur.UpdatedAt = t.now()
	t.ops[op.ID] = cur
	return nil
}

// Get returns a copy of the operation.
func (t *Tracker) Get(ctx context.Context, id string) (protocol.Operation, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Operation{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	op, ok := t.ops[id]
	if !ok {
		return protocol.Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op.Clone(), nil
}

// Sweep drops terminal operations last updated more than maxAge ago and
// returns how many were removed.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	n := 0
	for id, op := range t.ops {
		if op.Status.Terminal() && op.UpdatedAt.Before(cutoff) {
			delete(t.ops, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked operations.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ops)
}
