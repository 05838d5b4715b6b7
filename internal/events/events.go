// Package events defines the JSON wire contract between the gateway and
// connected clients.
package events

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/apexkv/facebook-clone/internal/models"
)

// Type identifies an event on the wire.
type Type string

const (
	FriendOnline  Type = "friend.online"
	FriendOffline Type = "friend.offline"
	ChatMessage   Type = "chat.message"
	ChatRead      Type = "chat.read"
	TypingStart   Type = "friend.typing.start"
	TypingStop    Type = "friend.typing.stop"
)

// Inbound is the client-to-server envelope: {"type": ..., "data": {...}}.
type Inbound struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Body is the typed inner message delivered to clients.
type Body struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Envelope is the server-to-client frame:
// {"type": <eventType>, "message": {"type": <eventType>, "data": <body>}}.
type Envelope struct {
	Type    Type `json:"type"`
	Message Body `json:"message"`
}

// Marshal builds the outbound envelope for an event.
func Marshal(t Type, data any) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:    t,
		Message: Body{Type: t, Data: data},
	})
}

// MessageData is the inbound chat.message body. Room carries either an
// existing room id or, on first contact, the peer's user id.
type MessageData struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

// RoomData is the inbound body for typing and read events.
type RoomData struct {
	Room string `json:"room"`
}

// RoomRef is the outbound body for typing and read-receipt events.
type RoomRef struct {
	Room string `json:"room"`
	User string `json:"user,omitempty"` // acting user
}

// Presence is the outbound friend.online / friend.offline body: the
// counterpart's view of the room with the transitioning user as friend.
type Presence struct {
	ID     uuid.UUID   `json:"id"`
	Friend models.User `json:"friend"`
	User   string      `json:"user"` // recipient's own id
	Room   string      `json:"room"`
}
