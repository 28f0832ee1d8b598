package logbuf

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewest(t *testing.T) {
	buf := New(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Attrs: map[string]any{"i": i}})
	}

	entries := buf.Query(Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[0].Attrs["i"])
	assert.Equal(t, 4, entries[2].Attrs["i"])
	assert.Equal(t, 3, buf.Len())
}

func TestQueryFilters(t *testing.T) {
	buf := New(10)
	now := time.Now()
	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "a", Attrs: map[string]any{"component": "room"}})
	buf.Write(Entry{Time: now.Add(time.Second), Level: "WARN", Message: "b", Attrs: map[string]any{"component": "monitor"}})
	buf.Write(Entry{Time: now.Add(2 * time.Second), Level: "ERROR", Message: "c", Attrs: map[string]any{"component": "room"}})
	buf.Write(Entry{Time: now.Add(3 * time.Second), Level: "INFO", Message: "d"})

	messages := func(es []Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Message)
		}
		return out
	}

	assert.Equal(t, []string{"b", "c"}, messages(buf.Query(Filter{MinLevel: slog.LevelWarn})))
	assert.Equal(t, []string{"c", "d"}, messages(buf.Query(Filter{Since: now.Add(2 * time.Second)})))
	assert.Equal(t, []string{"d"}, messages(buf.Query(Filter{Limit: 1})))
	assert.Equal(t, []string{"a", "c"}, messages(buf.Query(Filter{Attrs: map[string]string{"component": "room"}})))
	assert.Empty(t, buf.Query(Filter{Attrs: map[string]string{"component": "api"}}))
}

func TestHandlerCapturesBelowConsoleLevel(t *testing.T) {
	buf := New(10)
	var out bytes.Buffer
	inner := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("quiet")
	logger.Info("loud")

	assert.Len(t, buf.Query(Filter{}), 2)
	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, out.String(), "loud")
}

func TestHandlerFlattensAttrs(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), buf))

	logger.With("component", "room").WithGroup("req").Warn("failed",
		"error", errors.New("boom"),
		slog.Group("room", "id", "r1"),
	)

	entries := buf.Query(Filter{})
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "WARN", e.Level)
	assert.Equal(t, "room", e.Attrs["component"])
	assert.Equal(t, "boom", e.Attrs["req.error"])
	assert.Equal(t, "r1", e.Attrs["req.room.id"])
}
