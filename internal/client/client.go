// Package client is the chat client side of the relay protocol: the
// websocket connection wrapper with typed event handlers, and the reconnect
// policy applied when the transport drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

const availabilityTimeout = 10 * time.Second

// Handlers receives server events. Nil handlers are skipped. Closed fires
// once when the transport drops, with the read error that ended the
// connection.
type Handlers struct {
	UserJoined      func(ev *protocol.UserJoinedEvent)
	UserLeft        func(ev *protocol.UserLeftEvent)
	UserReconnected func(ev *protocol.UserReconnectedEvent)
	UserRenamed     func(ev *protocol.UserRenamedEvent)
	Message         func(ev *protocol.MessageEvent)
	History         func(ev *protocol.HistoryEvent)
	NameTaken       func(ev *protocol.NameTakenEvent)
	Error           func(ev *protocol.ErrorEvent)
	Closed          func(err error)
}

// ChatClient wraps one websocket connection to the relay. It is safe for
// concurrent use; writes are serialized.
type ChatClient struct {
	url      string
	handlers Handlers
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	availMu sync.Mutex
	avail   chan bool
}

func NewChatClient(url string, handlers Handlers, logger *slog.Logger) *ChatClient {
	return &ChatClient{url: url, handlers: handlers, logger: logger}
}

// Connect dials the relay and starts the event loop. Must not be called
// while a previous connection is still open.
func (c *ChatClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close tears the connection down.
func (c *ChatClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *ChatClient) Join(username string) error {
	return c.send(&protocol.JoinRequest{Username: username})
}

func (c *ChatClient) Disconnect(username string) error {
	return c.send(&protocol.DisconnectRequest{Username: username})
}

func (c *ChatClient) Reconnect(username string) error {
	return c.send(&protocol.ReconnectRequest{Username: username})
}

func (c *ChatClient) RenameReconnect(oldUsername, newUsername string) error {
	return c.send(&protocol.RenameReconnectRequest{OldUsername: oldUsername, NewUsername: newUsername})
}

func (c *ChatClient) SendMessage(text string) error {
	return c.send(&protocol.SendMessageRequest{Text: text})
}

func (c *ChatClient) RequestHistory() error {
	return c.send(&protocol.RequestHistoryRequest{})
}

// CheckAvailable asks the server whether username is free and waits for the
// reply. Only one check may be in flight at a time.
func (c *ChatClient) CheckAvailable(ctx context.Context, username string) (bool, error) {
	waiter := make(chan bool, 1)

	c.availMu.Lock()
	if c.avail != nil {
		c.availMu.Unlock()
		return false, errors.New("availability check already in flight")
	}
	c.avail = waiter
	c.availMu.Unlock()

	defer func() {
		c.availMu.Lock()
		c.avail = nil
		c.availMu.Unlock()
	}()

	if err := c.send(&protocol.CheckAvailableRequest{Username: username}); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	select {
	case available := <-waiter:
		return available, nil
	case <-ctx.Done():
		return false, fmt.Errorf("availability check: %w", ctx.Err())
	}
}

func (c *ChatClient) send(req protocol.Request) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *ChatClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if c.handlers.Closed != nil {
				c.handlers.Closed(err)
			}
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			c.logger.Warn("ignoring malformed event", "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *ChatClient) dispatch(ev protocol.Event) {
	switch e := ev.(type) {
	case *protocol.UserJoinedEvent:
		if c.handlers.UserJoined != nil {
			c.handlers.UserJoined(e)
		}
	case *protocol.UserLeftEvent:
		if c.handlers.UserLeft != nil {
			c.handlers.UserLeft(e)
		}
	case *protocol.UserReconnectedEvent:
		if c.handlers.UserReconnected != nil {
			c.handlers.UserReconnected(e)
		}
	case *protocol.UserRenamedEvent:
		if c.handlers.UserRenamed != nil {
			c.handlers.UserRenamed(e)
		}
	case *protocol.MessageEvent:
		if c.handlers.Message != nil {
			c.handlers.Message(e)
		}
	case *protocol.HistoryEvent:
		if c.handlers.History != nil {
			c.handlers.History(e)
		}
	case *protocol.NameTakenEvent:
		if c.handlers.NameTaken != nil {
			c.handlers.NameTaken(e)
		}
	case *protocol.AvailabilityEvent:
		c.availMu.Lock()
		waiter := c.avail
		c.availMu.Unlock()
		if waiter != nil {
			select {
			case waiter <- e.Available:
			default:
			}
		}
	case *protocol.ErrorEvent:
		if c.handlers.Error != nil {
			c.handlers.Error(e)
		}
	}
}
