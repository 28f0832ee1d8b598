package notes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotes(t *testing.T) *Notes {
	t.Helper()
	n := New(WithClock(stepClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))))
	_, err := n.Append("Facilitator", "Welcome.")
	require.NoError(t, err)
	_, err = n.Append("Apple", strings.Repeat("x", 130))
	require.NoError(t, err)
	return n
}

func TestFileArchiveText(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchive(dir, "")
	require.NoError(t, err)

	n := sampleNotes(t)
	require.NoError(t, a.Archive(context.Background(), n))

	path := a.Path(n)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "MeetingNotes@20250601120001"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "[2025-06-01T12:00:02Z] Facilitator:", lines[0])
	assert.Equal(t, "Welcome.", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "[2025-06-01T12:00:03Z] Apple:", lines[3])
	assert.Len(t, lines[4], 120)
	assert.Len(t, lines[5], 10)
}

func TestFileArchiveTOML(t *testing.T) {
	a, err := NewFileArchive(t.TempDir(), FormatTOML)
	require.NoError(t, err)

	n := sampleNotes(t)
	require.NoError(t, a.Archive(context.Background(), n))

	data, err := os.ReadFile(a.Path(n))
	require.NoError(t, err)

	var got tomlTranscript
	require.NoError(t, toml.Unmarshal(data, &got))
	assert.Equal(t, n.ID(), got.ID)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "Apple", got.Entries[1].Actor)
}

func TestFileArchiveRejectsUnknownFormat(t *testing.T) {
	_, err := NewFileArchive(t.TempDir(), "xml")
	assert.Error(t, err)
}

func TestFileArchiveCancelled(t *testing.T) {
	a, err := NewFileArchive(t.TempDir(), FormatText)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Archive(ctx, sampleNotes(t)), context.Canceled)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{""}, wrap("", 5))
	assert.Equal(t, []string{"abcde", "fg"}, wrap("abcdefg", 5))
	assert.Equal(t, []string{"héllo"}, wrap("héllo", 5))
}

func TestSQLiteArchive(t *testing.T) {
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx := context.Background()
	n := sampleNotes(t)
	require.NoError(t, a.Archive(ctx, n))
	// Archiving again replaces rather than duplicates.
	require.NoError(t, a.Archive(ctx, n))

	rec, err := a.Load(ctx, n.ID())
	require.NoError(t, err)
	require.Len(t, rec.Entries, 2)
	assert.Equal(t, "Facilitator", rec.Entries[0].Actor)
	assert.Equal(t, "Welcome.", rec.Entries[0].Content)
	assert.True(t, rec.Entries[0].Timestamp.Equal(n.ReadAll(time.Time{})[0].Timestamp))

	_, err = a.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
