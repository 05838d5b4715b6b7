package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors an identity owned by the users service. Rows are created
// from cross-service user events; the chat core only mutates presence.
type User struct {
	ID        uuid.UUID  `json:"id"`
	FullName  string     `json:"full_name"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
