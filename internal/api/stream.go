package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/pkg/protocol"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamSubscriber forwards monitor events to a websocket client.
type streamSubscriber struct {
	id   string
	conn *websocket.Conn

	once sync.Once
	done chan struct{}
	err  error
}

func newStreamSubscriber(conn *websocket.Conn) *streamSubscriber {
	return &streamSubscriber{id: "ws-" + uuid.NewString(), conn: conn, done: make(chan struct{})}
}

func (s *streamSubscriber) ID() string { return s.id }

func (s *streamSubscriber) OnEvent(_ context.Context, ev protocol.RoomEvent) error {
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(toEventResponse(ev))
}

func (s *streamSubscriber) OnCompleted() { s.finish(nil) }

func (s *streamSubscriber) OnError(err error) { s.finish(err) }

func (s *streamSubscriber) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// handleStream upgrades to a websocket and relays live events until the
// conference ends or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "monitor", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := newStreamSubscriber(conn)
	subscription, err := s.svc.Watch(ctx, id, sub)
	if err != nil {
		reason := "monitor not found"
		if !errors.Is(err, monitor.ErrNotFound) && !errors.Is(err, monitor.ErrClosed) {
			reason = err.Error()
		}
		closeStream(conn, websocket.ClosePolicyViolation, reason)
		return
	}
	defer subscription.Close()

	// The read loop only notices the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-sub.done:
		if sub.err != nil {
			s.logger.Warn("stream ended", "monitor", id, "error", sub.err)
			closeStream(conn, websocket.CloseInternalServerErr, sub.err.Error())
			return
		}
		closeStream(conn, websocket.CloseNormalClosure, "conference ended")
	case <-ctx.Done():
	}
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
