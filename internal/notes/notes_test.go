package notes

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestAppendRejectsEmpty(t *testing.T) {
	n := New()
	_, err := n.Append("alice", "   ")
	require.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 0, n.Len())
}

func TestReadAllSince(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := New(WithClock(stepClock(base)))

	first, err := n.Append("alice", "one")
	require.NoError(t, err)
	second, err := n.Append("bob", "two")
	require.NoError(t, err)
	_, err = n.Append("carol", "three")
	require.NoError(t, err)

	assert.Len(t, n.ReadAll(time.Time{}), 3)

	got := n.ReadAll(second.Timestamp)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Content)
	assert.Equal(t, "three", got[1].Content)

	assert.Len(t, n.ReadAll(first.Timestamp.Add(-time.Hour)), 3)
	assert.Empty(t, n.ReadAll(base.Add(time.Hour)))
}

func TestReadAllSnapshotIsImmutable(t *testing.T) {
	n := New()
	_, _ = n.Append("alice", "hello")

	snap := n.ReadAll(time.Time{})
	snap[0].Content = "mutated"
	_, _ = n.Append("bob", "world")

	assert.Len(t, snap, 1)
	assert.Equal(t, "hello", n.ReadAll(time.Time{})[0].Content)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC), // creation
		time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC),
	}
	i := 0
	n := New(WithClock(func() time.Time { ts := times[i]; i++; return ts }))

	a, _ := n.Append("a", "x")
	b, _ := n.Append("b", "y")
	assert.False(t, b.Timestamp.Before(a.Timestamp))
}

func TestConcurrentAppendAndRead(t *testing.T) {
	n := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = n.Append("w", "msg")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = n.ReadAll(time.Time{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, n.Len())
}

func TestTranscript(t *testing.T) {
	assert.Equal(t, "", Transcript(nil))

	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	out := Transcript([]Entry{
		{Actor: "a", Timestamp: ts, Content: "first"},
		{Actor: "b", Timestamp: ts.Add(time.Second), Content: "second"},
	})
	assert.Equal(t, "[2025-03-04T05:06:07Z] first\n[2025-03-04T05:06:08Z] second", out)
}
