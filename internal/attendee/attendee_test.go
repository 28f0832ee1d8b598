package attendee

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/agora/pkg/protocol"
)

func TestSpeakDecodes(t *testing.T) {
	var got Request
	a := New("Fig", "m", ResponderFunc(func(_ context.Context, req Request) (json.RawMessage, error) {
		got = req
		return json.RawMessage(`{"point":"ship it","reasoning":"tests pass"}`), nil
	}))

	out, err := Speak[protocol.DiscussionPoint](context.Background(), a, "[t] hello")
	require.NoError(t, err)
	assert.Equal(t, "ship it", out.Point)
	assert.Equal(t, "[t] hello", got.Transcript)
	assert.JSONEq(t, `{"point":"","reasoning":""}`, got.Format)
}

func TestSpeakNothingToSay(t *testing.T) {
	cases := map[string]ResponderFunc{
		"error": func(context.Context, Request) (json.RawMessage, error) { return nil, errors.New("down") },
		"empty": func(context.Context, Request) (json.RawMessage, error) { return nil, nil },
		"null":  func(context.Context, Request) (json.RawMessage, error) { return json.RawMessage("null"), nil },
		"bad":   func(context.Context, Request) (json.RawMessage, error) { return json.RawMessage(`{"point":1}`), nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Speak[protocol.DiscussionPoint](context.Background(), New("x", "m", fn), "")
			assert.Error(t, err)
		})
	}
}

func TestLastSpokeAt(t *testing.T) {
	a := New("x", "m", nil)
	assert.True(t, a.LastSpokeAt().IsZero())

	now := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	a.SetLastSpokeAt(now)
	assert.True(t, now.Equal(a.LastSpokeAt()))
	assert.Equal(t, "Agent: x (Model: m)", a.String())
	assert.NotEmpty(t, a.ID)
}
