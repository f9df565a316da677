package ws

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay has no cross-site browser surface; the console client
		// sends no Origin header at all.
		return true
	},
}

// ServeWS upgrades the HTTP request and registers the connection with the
// hub. The pumps run until the peer goes away; unregistration is driven by
// the read pump.
func ServeWS(hub *Hub, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
			return
		}

		client := newClient(hub, conn, logger)

		select {
		case hub.register <- client:
		case <-hub.ctx.Done():
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
