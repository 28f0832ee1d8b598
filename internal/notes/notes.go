// Package notes holds the append-only transcript of a conference and the
// sinks it is archived to once the conference closes.
package notes

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyContent is returned when appending an entry without content.
	ErrEmptyContent = errors.New("notes: empty content")
	// ErrNotFound is returned when an archived transcript does not exist.
	ErrNotFound = errors.New("notes: transcript not found")
)

// Entry is one line of the transcript.
type Entry struct {
	Actor     string    `json:"actor" toml:"actor"`
	Timestamp time.Time `json:"timestamp" toml:"timestamp"`
	Content   string    `json:"content" toml:"content"`
}

// Notes is a thread-safe, append-only ledger ordered by timestamp.
type Notes struct {
	id        string
	createdAt time.Time
	now       func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// Option configures a Notes ledger.
type Option func(*Notes)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(n *Notes) { n.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Notes {
	n := &Notes{
		id:  uuid.NewString(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	n.createdAt = n.now()
	return n
}

// ID returns the ledger's identity.
func (n *Notes) ID() string { return n.id }

// CreatedAt returns when the ledger was opened.
func (n *Notes) CreatedAt() time.Time { return n.createdAt }

// Append records content spoken by actor and returns the stored entry.
// Timestamps never go backwards, even if the clock does.
func (n *Notes) Append(actor, content string) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, ErrEmptyContent
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ts := n.now()
	if last := len(n.entries); last > 0 && ts.Before(n.entries[last-1].Timestamp) {
		ts = n.entries[last-1].Timestamp
	}
	e := Entry{Actor: actor, Timestamp: ts, Content: content}
	n.entries = append(n.entries, e)
	return e, nil
}

// ReadAll returns a snapshot of every entry at or after since.
// A zero since returns the whole transcript.
func (n *Notes) ReadAll(since time.Time) []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()

	if since.IsZero() {
		out := make([]Entry, len(n.entries))
		copy(out, n.entries)
		return out
	}

	var out []Entry
	for _, e := range n.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (n *Notes) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Transcript renders entries one per line as "[timestamp] content".
func Transcript(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = "[" + e.Timestamp.Format(time.RFC3339Nano) + "] " + e.Content
	}
	return strings.Join(lines, "\n")
}
