package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/pkg/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	got  []protocol.RoomEvent
	errs []error
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, _ string, ev protocol.RoomEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.got = append(f.got, ev)
	return nil
}

func event(kind protocol.EventKind, actor, msg string) protocol.RoomEvent {
	return protocol.RoomEvent{
		Timestamp:  time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Kind:       kind,
		Properties: map[string]string{protocol.PropActor: actor, protocol.PropMessage: msg},
	}
}

func TestRelayFiltersKinds(t *testing.T) {
	s := &fakeSender{}
	r := New("m1", s, Options{Kinds: []protocol.EventKind{protocol.EventClose}}, nil)

	require.NoError(t, r.OnEvent(context.Background(), event(protocol.EventSetup, "", "hello")))
	require.NoError(t, r.OnEvent(context.Background(), event(protocol.EventClose, "Apple", "bye")))

	require.Len(t, s.got, 1)
	assert.Equal(t, protocol.EventClose, s.got[0].Kind)
	assert.Equal(t, uint64(1), r.Sent())
	assert.Equal(t, "fake-m1", r.ID())
}

func TestRelayDetachesAfterRepeatedFailures(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSender{errs: []error{boom, nil, boom, boom}}
	r := New("m1", s, Options{MaxFailures: 2}, nil)
	ctx := context.Background()

	assert.NoError(t, r.OnEvent(ctx, event(protocol.EventSetup, "", "1")))
	assert.NoError(t, r.OnEvent(ctx, event(protocol.EventSetup, "", "2")))
	assert.NoError(t, r.OnEvent(ctx, event(protocol.EventSetup, "", "3")))
	assert.ErrorIs(t, r.OnEvent(ctx, event(protocol.EventSetup, "", "4")), boom)
}

func TestFactoryAttachesToMonitor(t *testing.T) {
	s := &fakeSender{}
	m := monitor.New(monitor.WithID("m1"))
	sub := Factory(s, Options{}, nil)("m1")

	_, err := m.Subscribe(context.Background(), sub)
	require.NoError(t, err)
	require.NoError(t, m.Publish(context.Background(), event(protocol.EventKickOff, "", "go")))
	require.NoError(t, m.Close(context.Background()))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.got, 1)
}

func TestMarkdown(t *testing.T) {
	assert.Equal(t, "**[KickOff]**\nLet's start", Markdown(event(protocol.EventKickOff, "", "Let's start")))
	assert.Equal(t,
		"**[InDiscussion]** *Apple*\n**point**: use a cache\n**reasoning**: it is faster",
		Markdown(event(protocol.EventInDiscussion, "Apple", `{"reasoning":"it is faster","point":"use a cache"}`)))

	setup := protocol.RoomEvent{Kind: protocol.EventSetup, Properties: map[string]string{protocol.PropAttendeeCount: "3"}}
	assert.Equal(t, "**[Setup]**\n3 attendees", Markdown(setup))
}

func TestMarkdownToMrkdwn(t *testing.T) {
	assert.Equal(t, "*bold* and _italic_ `**code**`", MarkdownToMrkdwn("**bold** and *italic* `**code**`"))
	assert.Equal(t, "~gone~ <https://x.io|site>", MarkdownToMrkdwn("~~gone~~ [site](https://x.io)"))
}

func TestMarkdownToTelegramHTML(t *testing.T) {
	assert.Equal(t, "<b>bold</b> <i>it</i> <code>a&lt;b</code>", MarkdownToTelegramHTML("**bold** *it* `a<b`"))
	assert.Equal(t, `1 &lt; 2 <a href="https://x.io">x</a>`, MarkdownToTelegramHTML("1 < 2 [x](https://x.io)"))
	assert.Equal(t, "bold x (https://x.io)", StripMarkdown("**bold** [x](https://x.io)"))
}

func TestWebhookSignsPayload(t *testing.T) {
	var (
		body []byte
		sig  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "s3cret", BearerToken: "tok"}, nil)
	require.NoError(t, err)
	require.NoError(t, wh.Send(context.Background(), "m1", event(protocol.EventClose, "Apple", "done")))

	assert.True(t, Verify(body, "s3cret", sig))
	assert.False(t, Verify(body, "other", sig))
	assert.False(t, Verify(body, "s3cret", ""))

	var p WebhookPayload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "m1", p.MonitorID)
	assert.Equal(t, "Close", p.Kind)
	assert.Equal(t, "Apple", p.Properties[protocol.PropActor])
}

func TestWebhookReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)
	err = wh.Send(context.Background(), "m1", event(protocol.EventSetup, "", "x"))
	assert.ErrorContains(t, err, "HTTP 502: nope")

	_, err = NewWebhook(WebhookConfig{}, nil)
	assert.Error(t, err)
}

func TestSlackWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := NewSlack(SlackConfig{WebhookURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "m1", event(protocol.EventClose, "Apple", "done")))
	assert.Equal(t, "*[Close]* _Apple_\ndone", got["text"])
}

func TestSlackBotToken(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.0"}`))
	}))
	defer srv.Close()

	s, err := NewSlack(SlackConfig{BotToken: "xoxb-1", Channel: "C1", APIURL: srv.URL + "/"}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "m1", event(protocol.EventKickOff, "", "go")))
	assert.Equal(t, []string{"C1"}, form["channel"])

	_, err = NewSlack(SlackConfig{BotToken: "xoxb-1"}, nil)
	assert.Error(t, err)
	_, err = NewSlack(SlackConfig{}, nil)
	assert.Error(t, err)
}

func TestTelegramFallsBackToPlainText(t *testing.T) {
	var (
		mu    sync.Mutex
		modes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botT/getMe":
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"agora","username":"agora_bot"}}`))
		case "/botT/sendMessage":
			require.NoError(t, r.ParseForm())
			mu.Lock()
			modes = append(modes, r.PostForm.Get("parse_mode"))
			first := len(modes) == 1
			mu.Unlock()
			if first {
				w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`))
				return
			}
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "T", ChatID: 42, APIEndpoint: srv.URL + "/bot%s/%s"}, srv.Client(), nil)
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), "m1", event(protocol.EventClose, "Apple", "done")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"HTML", ""}, modes)
}

func TestTelegramRequiresChat(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{Token: "T"}, nil, nil)
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	var buf bytes.Buffer
	c := NewConsole(&buf)
	require.NoError(t, c.Send(context.Background(), "m1", event(protocol.EventInDiscussion, "Apple", "hi")))
	assert.Equal(t, "07:08:09.000 InDiscussion Apple: hi\n", buf.String())
}
