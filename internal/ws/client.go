package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nbspibalcontin/ChatApplication/internal/presence"
	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound queue per connection; events to a full queue are dropped
	sendBufferSize = 256
)

// Client is one websocket connection registered with the hub. Its id is the
// opaque ConnectionId the coordinator keys sessions by; ids are never reused.
type Client struct {
	id   presence.ConnID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	logger *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := presence.ConnID(uuid.New().String())
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("connectionId", string(id)),
	}
}

// ID returns the connection id issued for this client.
func (c *Client) ID() presence.ConnID {
	return c.id
}

// readPump reads requests off the socket and hands them to the coordinator.
// It owns the connection: when it returns the client is unregistered and the
// socket closed, which the coordinator observes as a transport close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket connection closed", "error", err)
			}
			return
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			c.logger.Debug("rejected malformed request", "error", err)
			c.sendEvent(&protocol.ErrorEvent{Code: protocol.ErrCodeValidation, Reason: "Invalid message format."})
			continue
		}

		c.hub.coordinator.HandleRequest(context.Background(), c.id, req)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent encodes and queues a single event for this client only.
func (c *Client) sendEvent(ev protocol.Event) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		c.logger.Error("failed to encode event", "type", string(ev.EventType()), "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send queue full, dropping event", "type", string(ev.EventType()))
	}
}
