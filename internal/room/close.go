package room

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/h1v3-io/agora/internal/attendee"
	"github.com/h1v3-io/agora/internal/notes"
	"github.com/h1v3-io/agora/pkg/protocol"
)

// Host is anything that can conclude a discussion: a Room or a pooled
// handle wrapping one.
type Host interface {
	Conclude(ctx context.Context, collect Collector) (*notes.Notes, error)
}

// Close concludes the discussion hosted by h, collecting one T from every
// attendee that answers. Items keep attendee order.
func Close[T any](ctx context.Context, h Host) (*protocol.Deliverable[T], *notes.Notes, error) {
	items := []T{}
	collect := func(ctx context.Context, a *attendee.Attendee, transcript string) (string, bool) {
		v, err := attendee.Speak[T](ctx, a, transcript)
		if err != nil {
			return "", false
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		items = append(items, v)
		return string(b), true
	}

	n, err := h.Conclude(ctx, collect)
	if err != nil {
		return nil, n, err
	}
	return &protocol.Deliverable[T]{ID: uuid.NewString(), Items: items}, n, nil
}
