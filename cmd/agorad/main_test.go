package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/agora/internal/config"
	"github.com/h1v3-io/agora/internal/logbuf"
	"github.com/h1v3-io/agora/internal/notes"
)

func TestRootCmdSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "solve")
	assert.Contains(t, names, "transcript")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestSolveRequiresStatement(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"solve"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestSeats(t *testing.T) {
	got := seats(3, []string{"Ada"}, []string{"m1", "m2"})
	require.Len(t, got, 3)
	assert.Equal(t, "Ada", got[0].Name)
	assert.Empty(t, got[1].Name)
	assert.Equal(t, []string{"m1", "m2", "m1"}, []string{got[0].Model, got[1].Model, got[2].Model})

	// More names than seats grows the table.
	assert.Len(t, seats(1, []string{"a", "b"}, nil), 2)
}

func TestNewLoggerFeedsBuffer(t *testing.T) {
	var out bytes.Buffer
	logger, level, buf := newLogger(config.LoggingConfig{Level: "warn", Format: "text", BufferSize: 10}, false, &out)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")

	entries := buf.Query(logbuf.Filter{Attrs: map[string]string{"component": "test"}})
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)

	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	assert.Contains(t, out.String(), "now visible")
}

func TestWireDefaults(t *testing.T) {
	t.Setenv("AGORA_OPENAI_API_KEY", "sk-test")
	t.Setenv("AGORA_ARCHIVE_KIND", "none")
	cfg, _, err := config.Load("")
	require.NoError(t, err)

	a, err := wire(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.service)
	assert.NotNil(t, a.pool)
}

func TestTranscriptCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "transcripts.db")
	a, err := notes.NewSQLiteArchive(db)
	require.NoError(t, err)
	n := notes.New()
	_, err = n.Append("Facilitator", "Welcome.")
	require.NoError(t, err)
	_, err = n.Append("Apple", "Blue.")
	require.NoError(t, err)
	require.NoError(t, a.Archive(context.Background(), n))
	require.NoError(t, a.Close())

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"transcript", "--db", db, n.ID()})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "2 entries")
	assert.Contains(t, out.String(), "Apple: Blue.")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"transcript", "--db", db, "missing"})
	assert.ErrorContains(t, root.Execute(), "no transcript missing")
}
