package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFlushLifecycle(t *testing.T) {
	h := NewHub()
	buf, err := h.NewBuffer("m1")
	require.NoError(t, err)

	_, err = h.NewBuffer("m1")
	assert.ErrorIs(t, err, ErrDuplicateSubscriber)

	m := New(WithID("m1"))
	_, err = m.Subscribe(context.Background(), buf)
	require.NoError(t, err)
	require.NoError(t, m.Publish(context.Background(), event(1)))

	require.Eventually(t, func() bool { return buf.Pending() == 1 }, time.Second, 5*time.Millisecond)
	events, err := h.Flush("m1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, m.Publish(context.Background(), event(2)))
	closeMonitor(t, m)

	// Completed: the last flush hands out the rest and tears the buffer down.
	events, err = h.Flush("m1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = h.Flush("m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHubSweep(t *testing.T) {
	h := NewHub()
	now := time.Now()
	h.now = func() time.Time { return now }

	old, err := h.NewBuffer("old")
	require.NoError(t, err)
	_, err = h.NewBuffer("running")
	require.NoError(t, err)
	old.OnCompleted()

	h.now = func() time.Time { return now.Add(time.Hour) }
	assert.Equal(t, 1, h.Sweep(30*time.Minute))
	assert.Equal(t, 1, h.Buffers())
}

func TestHubLive(t *testing.T) {
	h := NewHub()
	m := New()
	defer closeMonitor(t, m)

	h.Track(m)
	got, ok := h.Live(m.ID())
	require.True(t, ok)
	assert.Same(t, m, got)

	h.Untrack(m.ID())
	_, ok = h.Live(m.ID())
	assert.False(t, ok)
}
