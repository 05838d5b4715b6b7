package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/metrics"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/store"
)

// MaxContentLength bounds a single message body.
const MaxContentLength = 4096

// Ledger persists chat messages and their read/unread state.
type Ledger struct {
	store store.DataStore
	log   zerolog.Logger
}

// NewLedger creates a message ledger over the given store.
func NewLedger(ds store.DataStore, log zerolog.Logger) *Ledger {
	return &Ledger{store: ds, log: log.With().Str("component", "ledger").Logger()}
}

// Append persists a new unread message in the room and bumps the
// room's last-message timestamp. The sender must be a room member and
// the content non-empty after trimming.
func (l *Ledger) Append(ctx context.Context, room *models.Room, senderID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrValidation)
	}
	if len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content too long", ErrValidation)
	}
	if !room.HasMember(senderID) {
		return nil, fmt.Errorf("%w: sender %s not in room %s", ErrForbidden, senderID, room.ID)
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:        ulid.Make().String(),
		RoomID:    room.ID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}
	if err := l.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	metrics.MessagesStored.Inc()

	// The denormalized sort key is best-effort; the message itself is
	// already durable.
	if err := l.store.TouchRoom(ctx, room.ID, now); err != nil {
		l.log.Error().Err(err).Str("room_id", room.ID.String()).Msg("touch room failed")
	}
	return msg, nil
}

// MarkRead flips read=true on every message in the room authored by
// the other member. The reader's own messages are never touched.
// Idempotent: a second call changes nothing and still succeeds.
func (l *Ledger) MarkRead(ctx context.Context, room *models.Room, readerID uuid.UUID) (int64, error) {
	if !room.HasMember(readerID) {
		return 0, fmt.Errorf("%w: reader %s not in room %s", ErrForbidden, readerID, room.ID)
	}
	changed, err := l.store.MarkMessagesRead(ctx, room.ID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return changed, nil
}

// UnreadCount counts messages in the room not authored by the user and
// not yet read.
func (l *Ledger) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	count, err := l.store.UnreadCount(ctx, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// List returns messages in the room newest-first. beforeID pages past
// a known message; ties on created_at break by message id so
// pagination is deterministic.
func (l *Ledger) List(ctx context.Context, room *models.Room, viewerID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	if !room.HasMember(viewerID) {
		return nil, fmt.Errorf("%w: viewer %s not in room %s", ErrForbidden, viewerID, room.ID)
	}
	msgs, err := l.store.ListMessages(ctx, room.ID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
