package progress

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers from any origin may watch a run; the API key check happens
	// before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream upgrades the request to a websocket and sends progress events for
// initial.RunID until the run finishes or the client goes away. initial is
// the state read from the database and is sent first.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, initial models.ProgressEvent) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	defer conn.Close()

	events, unsubscribe := h.Subscribe(initial.RunID)
	defer unsubscribe()

	if err := writeEvent(conn, initial); err != nil {
		return nil
	}
	if initial.Status.Finished() {
		closeNormally(conn)
		return nil
	}

	// Clients only send control frames; reading keeps pongs flowing and
	// tells us when the connection drops.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("⚠️  Progress stream for run %s closed: %v", initial.RunID, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeNormally(conn)
				return nil
			}
			if err := writeEvent(conn, ev); err != nil {
				return nil
			}
			if ev.Status.Finished() {
				closeNormally(conn)
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

func writeEvent(conn *websocket.Conn, ev models.ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
