// Package chat implements the conversation core: resolving the
// two-party room for a pair of users and the persisted message ledger
// with its read/unread accounting.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/store"
)

// Rooms resolves and creates two-party conversation rooms.
type Rooms struct {
	store store.DataStore
	log   zerolog.Logger
}

// NewRooms creates a room resolver over the given store.
func NewRooms(ds store.DataStore, log zerolog.Logger) *Rooms {
	return &Rooms{store: ds, log: log.With().Str("component", "rooms").Logger()}
}

// Get returns the room by id or ErrNotFound.
func (r *Rooms) Get(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

// ResolveOrCreate returns the existing room for the unordered pair
// (a, b), creating it when absent. Safe under concurrent first-messages
// for the same pair: a storage-level unique constraint on the
// normalized pair decides the winner, never an in-memory check.
func (r *Rooms) ResolveOrCreate(ctx context.Context, a, b uuid.UUID) (*models.Room, bool, error) {
	if a == b || a == uuid.Nil || b == uuid.Nil {
		return nil, false, fmt.Errorf("%w: invalid member pair", ErrValidation)
	}

	existing, err := r.store.FindRoomByMembers(ctx, a, b)
	if err != nil {
		return nil, false, fmt.Errorf("find room: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	room, created, err := r.store.EnsureRoom(ctx, uuid.New(), a, b, now)
	if err != nil {
		return nil, false, fmt.Errorf("ensure room: %w", err)
	}
	if room == nil {
		return nil, false, fmt.Errorf("ensure room: room vanished after upsert")
	}
	if created {
		r.log.Info().
			Str("room_id", room.ID.String()).
			Str("user_low", room.UserLow.String()).
			Str("user_high", room.UserHigh.String()).
			Msg("room created")
	}
	return room, created, nil
}

// ListForUser returns every room the user belongs to, most recently
// active first. Used to rebuild the fan-out join set at connect time.
func (r *Rooms) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	rooms, err := r.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
