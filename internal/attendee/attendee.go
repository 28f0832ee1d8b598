// Package attendee defines conference participants and how they are
// provisioned and asked to speak.
package attendee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNoResponse means the attendee had nothing to contribute.
var ErrNoResponse = errors.New("attendee: no response")

// Request is what an attendee is asked to respond to.
type Request struct {
	// Transcript is the slice of the meeting notes the attendee has not seen.
	Transcript string
	// Format is a JSON template of the expected reply.
	Format string
}

// Responder produces a JSON reply to a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (json.RawMessage, error)
}

// ResponderFunc adapts a function to a Responder.
type ResponderFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f ResponderFunc) Respond(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Attendee is one participant of a conference.
type Attendee struct {
	ID    string
	Name  string
	Model string

	responder Responder
	lastSpoke atomic.Int64
}

// New creates an attendee backed by r.
func New(name, model string, r Responder) *Attendee {
	return &Attendee{ID: uuid.NewString(), Name: name, Model: model, responder: r}
}

// LastSpokeAt returns when the attendee last contributed, or the zero time.
func (a *Attendee) LastSpokeAt() time.Time {
	n := a.lastSpoke.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SetLastSpokeAt records a contribution time.
func (a *Attendee) SetLastSpokeAt(t time.Time) {
	a.lastSpoke.Store(t.UnixNano())
}

func (a *Attendee) String() string {
	return fmt.Sprintf("Agent: %s (Model: %s)", a.Name, a.Model)
}

// Speak asks a for a reply decoded as T. Any failure, an empty reply and
// an undecodable reply all come back as an error; callers treat them as
// the attendee having nothing to say.
func Speak[T any](ctx context.Context, a *Attendee, transcript string) (T, error) {
	var zero T

	format, err := json.Marshal(new(T))
	if err != nil {
		return zero, fmt.Errorf("attendee %s: format: %w", a.Name, err)
	}

	raw, err := a.responder.Respond(ctx, Request{Transcript: transcript, Format: string(format)})
	if err != nil {
		return zero, fmt.Errorf("attendee %s: %w", a.Name, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return zero, ErrNoResponse
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("attendee %s: decode: %w", a.Name, err)
	}
	return out, nil
}
