package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Archive persists a closed transcript.
type Archive interface {
	Archive(ctx context.Context, n *Notes) error
}

// Discard is an Archive that keeps nothing.
type Discard struct{}

func (Discard) Archive(context.Context, *Notes) error { return nil }

// Archive file formats.
const (
	FormatText = "text"
	FormatTOML = "toml"
)

const wrapWidth = 120

// FileArchive writes one file per transcript into a directory.
type FileArchive struct {
	dir    string
	format string
}

// NewFileArchive creates an archive rooted at dir. An empty format means text.
func NewFileArchive(dir, format string) (*FileArchive, error) {
	switch format {
	case "":
		format = FormatText
	case FormatText, FormatTOML:
	default:
		return nil, fmt.Errorf("notes: unknown archive format %q", format)
	}
	if dir == "" {
		return nil, fmt.Errorf("notes: archive directory is required")
	}
	return &FileArchive{dir: dir, format: format}, nil
}

// Path returns the file a transcript is written to.
func (a *FileArchive) Path(n *Notes) string {
	ext := ".txt"
	if a.format == FormatTOML {
		ext = ".toml"
	}
	name := fmt.Sprintf("MeetingNotes@%s-%s%s", n.CreatedAt().UTC().Format("20060102150405"), n.ID()[:8], ext)
	return filepath.Join(a.dir, name)
}

func (a *FileArchive) Archive(ctx context.Context, n *Notes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("notes: archive: %w", err)
	}

	var (
		data []byte
		err  error
	)
	entries := n.ReadAll(time.Time{})
	if a.format == FormatTOML {
		data, err = toml.Marshal(tomlTranscript{ID: n.ID(), CreatedAt: n.CreatedAt(), Entries: entries})
		if err != nil {
			return fmt.Errorf("notes: archive: marshal: %w", err)
		}
	} else {
		data = []byte(renderText(entries))
	}

	if err := os.WriteFile(a.Path(n), data, 0o644); err != nil {
		return fmt.Errorf("notes: archive: %w", err)
	}
	return nil
}

type tomlTranscript struct {
	ID        string    `toml:"id"`
	CreatedAt time.Time `toml:"created_at"`
	Entries   []Entry   `toml:"entry"`
}

// renderText writes a header line per entry followed by its content
// hard-wrapped to wrapWidth and a blank separator line.
func renderText(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s:\n", e.Timestamp.Format(time.RFC3339Nano), e.Actor)
		for _, line := range wrap(e.Content, wrapWidth) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func wrap(text string, width int) []string {
	r := []rune(text)
	if len(r) == 0 {
		return []string{""}
	}
	var out []string
	for len(r) > 0 {
		n := min(width, len(r))
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}
