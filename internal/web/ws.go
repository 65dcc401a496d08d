package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/picast/internal/debug"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleStatusWS handles GET /status/ws: the SSE feed over a websocket.
// Each status event is sent as one text message.
func (h *Handlers) HandleStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		debug.Warn("Websocket upgrade from %s: %v", c.ClientIP(), err)
		return
	}
	defer conn.Close()
	debug.Verbose("Websocket status client connected: %s", c.ClientIP())

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// The reader only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				debug.Verbose("Websocket write to %s: %v", c.ClientIP(), err)
				return
			}
		case <-gone:
			return
		}
	}
}
