// Package ws is the websocket transport of the relay: the hub that tracks
// live connections and fans events out to them, and the per-connection
// read/write pumps.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nbspibalcontin/ChatApplication/internal/chat"
	"github.com/nbspibalcontin/ChatApplication/internal/presence"
	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

// SessionHandler receives transport lifecycle events and decoded requests.
// Implemented by the session coordinator.
type SessionHandler interface {
	ConnectionOpened(conn presence.ConnID)
	ConnectionClosed(conn presence.ConnID)
	HandleRequest(ctx context.Context, conn presence.ConnID, req protocol.Request)
}

// Hub owns the set of live websocket clients. Registration, unregistration
// and shutdown flow through one event loop; broadcasts resolve their targets
// against the client map at call time, so a connection that drops
// mid-broadcast simply stops receiving.
type Hub struct {
	clients map[presence.ConnID]*Client
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	coordinator SessionHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[presence.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetCoordinator wires the session coordinator in. Must be called before Run;
// the hub and the coordinator reference each other, so one side is attached
// after construction.
func (h *Hub) SetCoordinator(coordinator SessionHandler) {
	h.coordinator = coordinator
}

// Run processes registration and unregistration until Stop is called. Run in
// its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			count := len(h.clients)
			h.mu.Unlock()

			h.coordinator.ConnectionOpened(client.id)
			h.logger.Info("client connected", "connectionId", string(client.id), "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.coordinator.ConnectionClosed(client.id)
			h.logger.Info("client disconnected", "connectionId", string(client.id), "clients", count)

		case <-h.ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Stop shuts the hub down and waits for the event loop to drain.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.logger.Info("websocket hub stopped")
}

// Broadcast implements chat.Broadcaster. Delivery to a full or vanished
// client is dropped without error; ordering across one call is unspecified,
// ordering of successive calls from the same source event is preserved per
// connection by the send queue.
func (h *Hub) Broadcast(target chat.Target, event protocol.Event) {
	data, err := protocol.EncodeEvent(event)
	if err != nil {
		h.logger.Error("failed to encode event", "type", string(event.EventType()), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	switch target.Kind {
	case chat.TargetAll:
		for _, client := range h.clients {
			h.deliver(client, data, event)
		}
	case chat.TargetAllExceptCaller:
		for id, client := range h.clients {
			if id == target.Caller {
				continue
			}
			h.deliver(client, data, event)
		}
	case chat.TargetCallerOnly:
		if client, ok := h.clients[target.Caller]; ok {
			h.deliver(client, data, event)
		}
	case chat.TargetConns:
		for _, id := range target.Conns {
			if client, ok := h.clients[id]; ok {
				h.deliver(client, data, event)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, data []byte, event protocol.Event) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("send queue full, dropping event",
			"connectionId", string(client.id), "type", string(event.EventType()))
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
