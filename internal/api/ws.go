package api

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

type wsMessage struct {
	Type string          `json:"type"`
	Data engine.Snapshot `json:"data"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// hijackWriter lets the upgrader reach the connection behind an echo response.
type hijackWriter struct {
	http.ResponseWriter
}

func (w hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// Watch streams the snapshots of a job over a websocket until the job
// finishes or the client goes away: GET /api/jobs/:id/ws
func (ctrl *JobsController) Watch(c *echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return writeError(c, err)
	}

	ch, unsubscribe, err := ctrl.Engine.Subscribe(id)
	if err != nil {
		return writeError(c, err)
	}
	defer unsubscribe()

	conn, err := wsUpgrader.Upgrade(hijackWriter{c.Response()}, c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		logger.Warnf("Websocket upgrade failed for job %s: %v", id, err)
		return nil
	}
	defer conn.Close()

	gone := make(chan struct{})
	go readPump(conn, gone)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return nil

		case snap, ok := <-ch:
			if !ok {
				writeClose(conn, websocket.CloseGoingAway, "server shutting down")
				return nil
			}

			msg := wsMessage{Type: "progress", Data: snap}
			if snap.Status.IsTerminal() {
				msg.Type = "done"
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return nil
			}

			if snap.Status.IsTerminal() {
				writeClose(conn, websocket.CloseNormalClosure, string(snap.Status))
				return nil
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readPump consumes control frames and closes gone once the peer disconnects.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteWait),
	)
}
