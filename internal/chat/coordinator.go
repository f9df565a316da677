// Package chat implements the session coordination core of the relay: the
// per-connection join/disconnect/reconnect/rename state machine, the only
// code allowed to mutate the presence registry, and the fan-out decisions
// for every server-originated event.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
	"github.com/nbspibalcontin/ChatApplication/internal/presence"
	"github.com/nbspibalcontin/ChatApplication/internal/protocol"
)

const (
	// historySize is how many previous messages RequestHistory returns.
	historySize = 10

	// storeTimeout bounds every persistence call so a slow store never
	// stalls a session.
	storeTimeout = 5 * time.Second
)

// State is the lifecycle position of one connection's session.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the live binding between one transport connection and one
// username. Owned exclusively by the Coordinator.
type Session struct {
	Conn  presence.ConnID
	Name  string
	State State
}

// TargetKind selects which live connections receive a broadcast.
type TargetKind int

const (
	TargetAll TargetKind = iota
	TargetAllExceptCaller
	TargetCallerOnly
	TargetConns
)

// Target describes the recipients of one broadcast call. Caller is consulted
// for TargetAllExceptCaller and TargetCallerOnly; Conns for TargetConns.
type Target struct {
	Kind   TargetKind
	Caller presence.ConnID
	Conns  []presence.ConnID
}

// Broadcaster fans an event out to the selected subset of live connections.
// Implemented by the websocket hub; a connection that disappears mid-fan-out
// simply does not receive the event.
type Broadcaster interface {
	Broadcast(target Target, event protocol.Event)
}

// MessageLog is the durable message store collaborator.
type MessageLog interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	Tail(ctx context.Context, n int) ([]models.ChatMessage, error)
}

// Coordinator drives the session state machine for every connection. All
// mutations of the registry and the session table happen inside one critical
// section; persistence and broadcast always run after the mutation commits,
// never inside it.
type Coordinator struct {
	mu       sync.Mutex
	registry *presence.Registry
	sessions map[presence.ConnID]*Session

	store     MessageLog
	broadcast Broadcaster
	logger    *slog.Logger
}

func NewCoordinator(registry *presence.Registry, store MessageLog, broadcaster Broadcaster, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:  registry,
		sessions:  make(map[presence.ConnID]*Session),
		store:     store,
		broadcast: broadcaster,
		logger:    logger,
	}
}

// ConnectionOpened registers a fresh transport connection in the Unjoined
// state. Called by the hub when a socket is accepted.
func (c *Coordinator) ConnectionOpened(conn presence.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[conn] = &Session{Conn: conn, State: StateUnjoined}
}

// ConnectionClosed handles a transport close. While Joined it behaves
// exactly like a voluntary disconnect; while Unjoined or Disconnected it is
// a no-op. Safe to call more than once for the same connection.
func (c *Coordinator) ConnectionClosed(conn presence.ConnID) {
	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, conn)

	if s.State != StateJoined {
		c.mu.Unlock()
		return
	}
	name, released := c.registry.Release(conn)
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	if !released {
		return
	}
	c.logger.Info("user left on transport close", "userName", name)
	c.broadcast.Broadcast(Target{Kind: TargetAll}, &protocol.UserLeftEvent{Username: name, Users: snapshot})
}

// HandleRequest dispatches one decoded client request. Any panic during a
// transition is recovered, logged, and surfaced to the caller as a generic
// error event; the atomic claim/release contract keeps the registry whole.
func (c *Coordinator) HandleRequest(ctx context.Context, conn presence.ConnID, req protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling request", "connectionId", string(conn), "panic", r)
			c.replyError(conn, protocol.ErrCodeInternal, "An internal error occurred. Please try again.")
		}
	}()

	switch r := req.(type) {
	case *protocol.JoinRequest:
		c.join(conn, r.Username)
	case *protocol.CheckAvailableRequest:
		c.checkAvailable(conn, r.Username)
	case *protocol.DisconnectRequest:
		c.disconnect(conn, r.Username)
	case *protocol.ReconnectRequest:
		c.reconnect(conn, r.Username)
	case *protocol.RenameReconnectRequest:
		c.renameReconnect(conn, r.OldUsername, r.NewUsername)
	case *protocol.SendMessageRequest:
		c.sendMessage(ctx, conn, r.Text)
	case *protocol.RequestHistoryRequest:
		c.history(ctx, conn)
	default:
		c.replyError(conn, protocol.ErrCodeValidation, "Unsupported request.")
	}
}

func (c *Coordinator) join(conn presence.ConnID, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.replyError(conn, protocol.ErrCodeValidation, "Username cannot be empty.")
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok || s.State != StateUnjoined {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Already joined.")
		return
	}
	if !c.registry.TryClaim(username) {
		c.mu.Unlock()
		c.reply(conn, &protocol.NameTakenEvent{Username: username})
		return
	}
	c.registry.Bind(conn, username)
	s.Name = username
	s.State = StateJoined
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	c.logger.Info("user joined", "userName", username, "connectionId", string(conn))
	c.broadcast.Broadcast(Target{Kind: TargetAll}, &protocol.UserJoinedEvent{Username: username, Users: snapshot})
}

func (c *Coordinator) checkAvailable(conn presence.ConnID, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.replyError(conn, protocol.ErrCodeValidation, "Username cannot be empty.")
		return
	}
	// Advisory only; Join re-validates atomically inside the claim.
	c.reply(conn, &protocol.AvailabilityEvent{
		Username:  username,
		Available: c.registry.IsAvailable(username),
	})
}

func (c *Coordinator) disconnect(conn presence.ConnID, username string) {
	username = strings.TrimSpace(username)

	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok || s.State != StateJoined || s.Name != username {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Not joined under that username.")
		return
	}
	name, released := c.registry.Release(conn)
	s.State = StateDisconnected
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	if !released {
		// Session said Joined but the registry had no binding: the two views
		// diverged, which the serialization discipline is meant to prevent.
		c.logger.Error("presence invariant violated: joined session without binding",
			"userName", username, "connectionId", string(conn))
		return
	}
	c.logger.Info("user disconnected", "userName", name)
	c.broadcast.Broadcast(Target{Kind: TargetAll}, &protocol.UserLeftEvent{Username: name, Users: snapshot})
}

func (c *Coordinator) reconnect(conn presence.ConnID, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.replyError(conn, protocol.ErrCodeValidation, "Username cannot be empty.")
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok || s.State == StateJoined {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Already joined.")
		return
	}
	// A session that disconnected on this connection must resume under its
	// prior name; renaming goes through RenameReconnect. A fresh connection
	// recovering from a transport drop has no prior name to match.
	if s.State == StateDisconnected && s.Name != username {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Reconnect must use the previous username.")
		return
	}
	if !c.registry.TryClaim(username) {
		c.mu.Unlock()
		c.reply(conn, &protocol.NameTakenEvent{Username: username})
		return
	}
	c.registry.Bind(conn, username)
	s.Name = username
	s.State = StateJoined
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	c.logger.Info("user reconnected", "userName", username, "connectionId", string(conn))
	c.broadcast.Broadcast(Target{Kind: TargetAll}, &protocol.UserReconnectedEvent{Username: username, Users: snapshot})
}

func (c *Coordinator) renameReconnect(conn presence.ConnID, oldUsername, newUsername string) {
	newUsername = strings.TrimSpace(newUsername)
	if newUsername == "" {
		c.replyError(conn, protocol.ErrCodeValidation, "Username cannot be empty.")
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok || s.State == StateJoined {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Already joined.")
		return
	}
	if s.State == StateDisconnected && s.Name != "" {
		// The session remembers the name it held; trust it over the request.
		oldUsername = s.Name
	}
	if !c.registry.TryClaim(newUsername) {
		c.mu.Unlock()
		c.reply(conn, &protocol.NameTakenEvent{Username: newUsername})
		return
	}
	c.registry.Bind(conn, newUsername)
	s.Name = newUsername
	s.State = StateJoined
	snapshot := c.registry.Snapshot()
	c.mu.Unlock()

	c.logger.Info("user renamed on reconnect", "oldUserName", oldUsername, "newUserName", newUsername)
	c.broadcast.Broadcast(Target{Kind: TargetAll}, &protocol.UserRenamedEvent{
		OldUsername: oldUsername,
		NewUsername: newUsername,
		Users:       snapshot,
	})
}

func (c *Coordinator) sendMessage(ctx context.Context, conn presence.ConnID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.replyError(conn, protocol.ErrCodeValidation, "Message cannot be empty.")
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[conn]
	if !ok || s.State != StateJoined {
		c.mu.Unlock()
		c.replyError(conn, protocol.ErrCodeValidation, "Join the chat before sending messages.")
		return
	}
	username := s.Name
	live := c.liveConnsLocked()
	c.mu.Unlock()

	timestamp := time.Now().UTC()

	// Persistence and broadcast are independent side effects: a failed write
	// is reported to the caller but never suppresses real-time delivery.
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	msg := &models.ChatMessage{Username: username, Body: text, Timestamp: timestamp}
	if err := c.store.Append(storeCtx, msg); err != nil {
		c.logger.Error("failed to persist message", "userName", username, "error", err)
		c.replyError(conn, protocol.ErrCodeStorage, "Your message was delivered but could not be saved.")
	}

	c.broadcast.Broadcast(Target{Kind: TargetConns, Conns: live}, &protocol.MessageEvent{
		Username:  username,
		Text:      text,
		Timestamp: timestamp,
	})
}

func (c *Coordinator) history(ctx context.Context, conn presence.ConnID) {
	c.mu.Lock()
	s, ok := c.sessions[conn]
	joined := ok && s.State == StateJoined
	c.mu.Unlock()

	if !joined {
		c.replyError(conn, protocol.ErrCodeValidation, "Join the chat before requesting history.")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	messages, err := c.store.Tail(storeCtx, historySize)
	if err != nil {
		c.logger.Error("failed to load history", "error", err)
		c.replyError(conn, protocol.ErrCodeStorage, "An error occurred while retrieving messages. Please try again.")
		return
	}

	responses := make([]models.MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, messages[i].ToResponse())
	}
	c.reply(conn, &protocol.HistoryEvent{Messages: responses})
}

// liveConnsLocked returns the connections of all currently joined sessions.
// Callers must hold c.mu.
func (c *Coordinator) liveConnsLocked() []presence.ConnID {
	conns := make([]presence.ConnID, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.State == StateJoined {
			conns = append(conns, s.Conn)
		}
	}
	return conns
}

func (c *Coordinator) reply(conn presence.ConnID, ev protocol.Event) {
	c.broadcast.Broadcast(Target{Kind: TargetCallerOnly, Caller: conn}, ev)
}

func (c *Coordinator) replyError(conn presence.ConnID, code, reason string) {
	c.reply(conn, &protocol.ErrorEvent{Code: code, Reason: reason})
}
