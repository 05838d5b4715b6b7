package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apexkv/facebook-clone/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the chat tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY,
		user_low UUID NOT NULL REFERENCES users(id),
		user_high UUID NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_low, user_high)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES rooms(id),
		sender_id UUID NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);
	CREATE INDEX IF NOT EXISTS idx_rooms_user_low ON rooms(user_low);
	CREATE INDEX IF NOT EXISTS idx_rooms_user_high ON rooms(user_high);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_unread ON messages(room_id, is_read, sender_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts a user row or refreshes its display name.
func (s *PostgresStore) UpsertUser(ctx context.Context, id uuid.UUID, fullName string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, full_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name
		RETURNING id, full_name, is_online, last_seen, created_at
	`, id, fullName).Scan(&user.ID, &user.FullName, &user.IsOnline, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, is_online, last_seen, created_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.FullName, &user.IsOnline, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SetUserPresence persists an online/offline transition.
func (s *PostgresStore) SetUserPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3
	`, online, lastSeen, id)
	return err
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.UserLow, &room.UserHigh, &room.CreatedAt, &room.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// FindRoomByMembers retrieves the room for an unordered user pair.
func (s *PostgresStore) FindRoomByMembers(ctx context.Context, a, b uuid.UUID) (*models.Room, error) {
	low, high := models.NormalizePair(a, b)
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms WHERE user_low = $1 AND user_high = $2
	`, low, high).Scan(&room.ID, &room.UserLow, &room.UserHigh, &room.CreatedAt, &room.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// EnsureRoom inserts the pair room if absent; the unique index makes
// concurrent first-messages converge on a single row.
func (s *PostgresStore) EnsureRoom(ctx context.Context, id uuid.UUID, a, b uuid.UUID, now time.Time) (*models.Room, bool, error) {
	low, high := models.NormalizePair(a, b)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, user_low, user_high, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_low, user_high) DO NOTHING
	`, id, low, high, now)
	if err != nil {
		return nil, false, err
	}
	room, err := s.FindRoomByMembers(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return room, tag.RowsAffected() > 0, nil
}

// ListRoomsForUser returns every room that includes the user.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms
		WHERE user_low = $1 OR user_high = $1
		ORDER BY last_message_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.UserLow, &room.UserHigh, &room.CreatedAt, &room.LastMessageAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// TouchRoom updates the denormalized last-message timestamp.
func (s *PostgresStore) TouchRoom(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_message_at = $1 WHERE id = $2
	`, at, id)
	return err
}

const pgRoomEntryQuery = `
	SELECT r.id, u.id, u.full_name, u.is_online, u.last_seen, u.created_at,
	       r.last_message_at,
	       (SELECT m.content FROM messages m WHERE m.room_id = r.id
	        ORDER BY m.created_at DESC, m.id DESC LIMIT 1),
	       (SELECT COUNT(*) FROM messages m WHERE m.room_id = r.id
	        AND m.sender_id <> $1 AND m.is_read = FALSE)
	FROM rooms r
	JOIN users u ON u.id = CASE WHEN r.user_low = $1 THEN r.user_high ELSE r.user_low END
	WHERE (r.user_low = $1 OR r.user_high = $1)`

// ListRoomEntries returns the viewer's conversation list, online
// counterparts first, then most recently active.
func (s *PostgresStore) ListRoomEntries(ctx context.Context, viewerID uuid.UUID, limit, offset int) ([]models.RoomEntry, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rooms WHERE user_low = $1 OR user_high = $1
	`, viewerID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, pgRoomEntryQuery+`
		ORDER BY u.is_online DESC, r.last_message_at DESC
		LIMIT $2 OFFSET $3
	`, viewerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.RoomEntry
	for rows.Next() {
		entry, err := scanPgRoomEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	return entries, total, rows.Err()
}

// GetRoomEntry returns one conversation-list row, or nil when the room
// does not exist or the viewer is not a member.
func (s *PostgresStore) GetRoomEntry(ctx context.Context, viewerID, roomID uuid.UUID) (*models.RoomEntry, error) {
	rows, err := s.pool.Query(ctx, pgRoomEntryQuery+` AND r.id = $2`, viewerID, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanPgRoomEntry(rows)
}

func scanPgRoomEntry(rows pgx.Rows) (*models.RoomEntry, error) {
	var entry models.RoomEntry
	var lastMessage *string
	err := rows.Scan(&entry.ID, &entry.Friend.ID, &entry.Friend.FullName,
		&entry.Friend.IsOnline, &entry.Friend.LastSeen, &entry.Friend.CreatedAt,
		&entry.LastMessageAt, &lastMessage, &entry.UnreadCount)
	if err != nil {
		return nil, err
	}
	entry.LastMessage = lastMessage
	return &entry, nil
}

// ListOnlineCounterparts returns the (room, co-member) pairs whose
// co-member is currently online, the user itself always excluded.
func (s *PostgresStore) ListOnlineCounterparts(ctx context.Context, userID uuid.UUID) ([]Counterpart, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, u.id
		FROM rooms r
		JOIN users u ON u.id = CASE WHEN r.user_low = $1 THEN r.user_high ELSE r.user_low END
		WHERE (r.user_low = $1 OR r.user_high = $1)
		  AND u.is_online = TRUE AND u.id <> $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Counterpart
	for rows.Next() {
		var c Counterpart
		if err := rows.Scan(&c.RoomID, &c.UserID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertMessage persists a new message.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.IsRead, msg.CreatedAt)
	return err
}

// ListMessages returns messages newest-first with keyset pagination.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE room_id = $1`
	args := []any{roomID}
	if beforeID != "" {
		var anchor time.Time
		err := s.pool.QueryRow(ctx, `
			SELECT created_at FROM messages WHERE id = $1 AND room_id = $2
		`, beforeID, roomID).Scan(&anchor)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return []models.Message{}, nil
			}
			return nil, err
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, anchor, beforeID)
		query += ` ORDER BY created_at DESC, id DESC LIMIT $4`
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $2`
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flips unread counterpart-authored messages to read.
func (s *PostgresStore) MarkMessagesRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE room_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, roomID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts unread messages in the room not authored by the user.
func (s *PostgresStore) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, roomID, userID).Scan(&count)
	return count, err
}
