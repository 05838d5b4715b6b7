package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat message. Immutable except for the read flag,
// which only ever transitions false -> true.
type Message struct {
	ID        string    `json:"id"` // ULID; lexicographic order follows creation time
	RoomID    uuid.UUID `json:"room_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageView is a message rendered for a specific viewer: direction is
// "sent" when the viewer authored it and "received" otherwise.
type MessageView struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	User      User      `json:"user"` // the sender
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	Direction string    `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

// ViewMessage renders a message from the viewer's perspective.
func ViewMessage(msg *Message, sender User, viewerID uuid.UUID) MessageView {
	direction := "received"
	if msg.SenderID == viewerID {
		direction = "sent"
	}
	return MessageView{
		ID:        msg.ID,
		Room:      msg.RoomID.String(),
		User:      sender,
		Content:   msg.Content,
		IsRead:    msg.IsRead,
		Direction: direction,
		CreatedAt: msg.CreatedAt,
	}
}

// RoomEntry is one row of a user's conversation list: the room seen
// from the viewer's side, with the counterpart and unread ledger state.
type RoomEntry struct {
	ID            uuid.UUID `json:"id"`
	Friend        User      `json:"friend"`
	LastMessage   *string   `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int64     `json:"unread_count"`
}
