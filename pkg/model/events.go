package model

import (
	"encoding/json"
	"errors"
)

// ErrAuthentication is reported when the gateway rejects the bearer
// credential, either at connect time or via an error event. Part of the wire
// contract: clients purge their session and return to login on it.
var ErrAuthentication = errors.New("authentication error")

// Event types carried in the envelope. Inbound (server -> client):
// allUsers, recentMessages, message, typing, stopTyping, error.
// Outbound (client -> server): getAllUsers, joinPrivateChat, sendMessage,
// typing, stopTyping.
const (
	EventGetAllUsers     = "getAllUsers"
	EventAllUsers        = "allUsers"
	EventJoinPrivateChat = "joinPrivateChat"
	EventRecentMessages  = "recentMessages"
	EventMessage         = "message"
	EventSendMessage     = "sendMessage"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventError           = "error"
)

// Envelope frames every websocket and Kafka payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(eventType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: raw}, nil
}

// JoinPrivateChat subscribes the caller to a DM conversation. Nonce is an
// opaque client-side tag echoed back on the matching recentMessages push so
// late history for an abandoned selection can be discarded.
type JoinPrivateChat struct {
	TargetUserID string `json:"targetUserId"`
	Nonce        uint64 `json:"nonce,omitempty"`
}

// SendMessage is the outbound send intent.
type SendMessage struct {
	Content      string      `json:"content"`
	MessageType  MessageType `json:"messageType,omitempty"`
	FileData     *FileData   `json:"fileData,omitempty"`
	TargetUserID string      `json:"targetUserId"`
}

// RecentMessages is the history push after a joinPrivateChat.
type RecentMessages struct {
	TargetUserID string    `json:"targetUserId"`
	Nonce        uint64    `json:"nonce,omitempty"`
	Messages     []Message `json:"messages"`
}

// TypingEvent carries both directions: outbound the client sets only
// TargetUserID, the gateway stamps UserID and Username from the claims
// before fanning out.
type TypingEvent struct {
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
