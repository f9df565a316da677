// Package protocol defines the wire protocol between the chat client and the
// relay server: a closed set of client->server request variants and
// server->client event variants, carried in a JSON envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbspibalcontin/ChatApplication/internal/models"
)

// RequestType identifies a client->server request variant.
type RequestType string

const (
	RequestTypeJoin            RequestType = "user.join"
	RequestTypeCheckAvailable  RequestType = "user.checkAvailable"
	RequestTypeDisconnect      RequestType = "user.disconnect"
	RequestTypeReconnect       RequestType = "user.reconnect"
	RequestTypeRenameReconnect RequestType = "user.renameReconnect"
	RequestTypeSendMessage     RequestType = "chat.send"
	RequestTypeRequestHistory  RequestType = "chat.history"
)

// EventType identifies a server->client event variant.
type EventType string

const (
	EventTypeUserJoined      EventType = "user.joined"
	EventTypeUserLeft        EventType = "user.left"
	EventTypeUserReconnected EventType = "user.reconnected"
	EventTypeUserRenamed     EventType = "user.renamed"
	EventTypeNameTaken       EventType = "user.nameTaken"
	EventTypeAvailability    EventType = "user.availability"
	EventTypeMessage         EventType = "chat.message"
	EventTypeHistory         EventType = "chat.history"
	EventTypeError           EventType = "error"
)

// Envelope is the wire frame for both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request is the closed set of client->server messages.
type Request interface {
	RequestType() RequestType
}

type JoinRequest struct {
	Username string `json:"userName"`
}

type CheckAvailableRequest struct {
	Username string `json:"userName"`
}

type DisconnectRequest struct {
	Username string `json:"userName"`
}

type ReconnectRequest struct {
	Username string `json:"userName"`
}

type RenameReconnectRequest struct {
	OldUsername string `json:"oldUserName"`
	NewUsername string `json:"newUserName"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type RequestHistoryRequest struct{}

func (JoinRequest) RequestType() RequestType            { return RequestTypeJoin }
func (CheckAvailableRequest) RequestType() RequestType  { return RequestTypeCheckAvailable }
func (DisconnectRequest) RequestType() RequestType      { return RequestTypeDisconnect }
func (ReconnectRequest) RequestType() RequestType       { return RequestTypeReconnect }
func (RenameReconnectRequest) RequestType() RequestType { return RequestTypeRenameReconnect }
func (SendMessageRequest) RequestType() RequestType     { return RequestTypeSendMessage }
func (RequestHistoryRequest) RequestType() RequestType  { return RequestTypeRequestHistory }

// Event is the closed set of server->client messages.
type Event interface {
	EventType() EventType
}

type UserJoinedEvent struct {
	Username string   `json:"userName"`
	Users    []string `json:"users"`
}

type UserLeftEvent struct {
	Username string   `json:"userName"`
	Users    []string `json:"users"`
}

type UserReconnectedEvent struct {
	Username string   `json:"userName"`
	Users    []string `json:"users"`
}

type UserRenamedEvent struct {
	OldUsername string   `json:"oldUserName"`
	NewUsername string   `json:"newUserName"`
	Users       []string `json:"users"`
}

type NameTakenEvent struct {
	Username string `json:"userName"`
}

type AvailabilityEvent struct {
	Username  string `json:"userName"`
	Available bool   `json:"available"`
}

type MessageEvent struct {
	Username  string    `json:"userName"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type HistoryEvent struct {
	Messages []models.MessageResponse `json:"messages"`
}

// ErrorEvent carries a human-readable rejection or failure reason.
type ErrorEvent struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (UserJoinedEvent) EventType() EventType      { return EventTypeUserJoined }
func (UserLeftEvent) EventType() EventType        { return EventTypeUserLeft }
func (UserReconnectedEvent) EventType() EventType { return EventTypeUserReconnected }
func (UserRenamedEvent) EventType() EventType     { return EventTypeUserRenamed }
func (NameTakenEvent) EventType() EventType       { return EventTypeNameTaken }
func (AvailabilityEvent) EventType() EventType    { return EventTypeAvailability }
func (MessageEvent) EventType() EventType         { return EventTypeMessage }
func (HistoryEvent) EventType() EventType         { return EventTypeHistory }
func (ErrorEvent) EventType() EventType           { return EventTypeError }

// Error codes carried by ErrorEvent.
const (
	ErrCodeValidation = "validation"
	ErrCodeStorage    = "storage"
	ErrCodeInternal   = "internal"
)

// EncodeRequest wraps a request in an envelope and marshals it.
func EncodeRequest(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}
	return json.Marshal(Envelope{Type: string(req.RequestType()), Payload: payload})
}

// DecodeRequest parses an envelope into its concrete request variant. Unknown
// types are an error; the dispatch switch is exhaustive over RequestType.
func DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode request envelope: %w", err)
	}

	var req Request
	switch RequestType(env.Type) {
	case RequestTypeJoin:
		req = &JoinRequest{}
	case RequestTypeCheckAvailable:
		req = &CheckAvailableRequest{}
	case RequestTypeDisconnect:
		req = &DisconnectRequest{}
	case RequestTypeReconnect:
		req = &ReconnectRequest{}
	case RequestTypeRenameReconnect:
		req = &RenameReconnectRequest{}
	case RequestTypeSendMessage:
		req = &SendMessageRequest{}
	case RequestTypeRequestHistory:
		return &RequestHistoryRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown request type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return req, nil
}

// EncodeEvent wraps an event in an envelope and marshals it.
func EncodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return json.Marshal(Envelope{Type: string(ev.EventType()), Payload: payload})
}

// DecodeEvent parses an envelope into its concrete event variant.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var ev Event
	switch EventType(env.Type) {
	case EventTypeUserJoined:
		ev = &UserJoinedEvent{}
	case EventTypeUserLeft:
		ev = &UserLeftEvent{}
	case EventTypeUserReconnected:
		ev = &UserReconnectedEvent{}
	case EventTypeUserRenamed:
		ev = &UserRenamedEvent{}
	case EventTypeNameTaken:
		ev = &NameTakenEvent{}
	case EventTypeAvailability:
		ev = &AvailabilityEvent{}
	case EventTypeMessage:
		ev = &MessageEvent{}
	case EventTypeHistory:
		ev = &HistoryEvent{}
	case EventTypeError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}
