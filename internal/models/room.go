package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Room is a two-party conversation. Membership is immutable after
// creation and a given unordered pair of users maps to at most one room,
// enforced by a unique index on the normalized (UserLow, UserHigh) pair.
type Room struct {
	ID            uuid.UUID `json:"id"`
	UserLow       uuid.UUID `json:"-"`
	UserHigh      uuid.UUID `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// NormalizePair orders two user IDs so that the same unordered pair
// always produces the same (low, high) storage key.
func NormalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// HasMember reports whether the user belongs to the room.
func (r *Room) HasMember(userID uuid.UUID) bool {
	return r.UserLow == userID || r.UserHigh == userID
}

// OtherMember returns the counterpart of the given member. The second
// return value is false when the user is not a member at all.
func (r *Room) OtherMember(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case r.UserLow:
		return r.UserHigh, true
	case r.UserHigh:
		return r.UserLow, true
	}
	return uuid.Nil, false
}
