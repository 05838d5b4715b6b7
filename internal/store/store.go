package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/apexkv/facebook-clone/internal/models"
)

// Counterpart is one (room, co-member) pair used for presence fan-out.
type Counterpart struct {
	RoomID uuid.UUID
	UserID uuid.UUID
}

// DataStore defines the persistent read/write contract the chat core
// needs. PostgresStore, SQLiteStore and MemoryStore implement it.
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	UpsertUser(ctx context.Context, id uuid.UUID, fullName string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetUserPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error

	// Room operations
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	FindRoomByMembers(ctx context.Context, a, b uuid.UUID) (*models.Room, error)
	// EnsureRoom inserts the pair room if absent and returns the row that
	// won, existing or new, plus whether this call inserted it. Concurrent
	// callers for the same pair must observe a single room (unique index on
	// the normalized pair) and at most one of them sees created=true.
	EnsureRoom(ctx context.Context, id uuid.UUID, a, b uuid.UUID, now time.Time) (*models.Room, bool, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
	TouchRoom(ctx context.Context, id uuid.UUID, at time.Time) error

	// Conversation-list projections
	ListRoomEntries(ctx context.Context, viewerID uuid.UUID, limit, offset int) ([]models.RoomEntry, int, error)
	GetRoomEntry(ctx context.Context, viewerID, roomID uuid.UUID) (*models.RoomEntry, error)
	ListOnlineCounterparts(ctx context.Context, userID uuid.UUID) ([]Counterpart, error)

	// Message ledger
	InsertMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns messages newest-first, ordered by
	// (created_at, id); beforeID pages past the named message.
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error)
	// MarkMessagesRead flips read on counterpart-authored messages only
	// and reports how many rows changed. Idempotent.
	MarkMessagesRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error)
}
