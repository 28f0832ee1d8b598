package relay

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/h1v3-io/agora/pkg/protocol"
)

// Console prints events to a terminal, one line per event.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	kinds map[protocol.EventKind]*color.Color
	dim   *color.Color
	bold  *color.Color
}

// NewConsole creates a printer. Colors follow color.NoColor.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w: w,
		kinds: map[protocol.EventKind]*color.Color{
			protocol.EventSetup:        color.New(color.FgCyan),
			protocol.EventKickOff:      color.New(color.FgGreen, color.Bold),
			protocol.EventInDiscussion: color.New(color.FgWhite),
			protocol.EventClose:        color.New(color.FgYellow, color.Bold),
		},
		dim:  color.New(color.Faint),
		bold: color.New(color.Bold),
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, _ string, ev protocol.RoomEvent) error {
	kc, ok := c.kinds[ev.Kind]
	if !ok {
		kc = color.New(color.Reset)
	}

	line := c.dim.Sprint(ev.Timestamp.Format("15:04:05.000")) + " " + kc.Sprintf("%-12s", ev.Kind)
	if actor := ev.Prop(protocol.PropActor); actor != "" {
		line += " " + c.bold.Sprint(actor) + ":"
	}
	if msg := ev.Prop(protocol.PropMessage); msg != "" {
		line += " " + msg
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}
