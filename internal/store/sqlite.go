package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/apexkv/facebook-clone/internal/models"
)

// SQLiteStore handles SQLite database operations. It backs local
// development; production runs on PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		user_low TEXT NOT NULL REFERENCES users(id),
		user_high TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_message_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_low, user_high)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		sender_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);
	CREATE INDEX IF NOT EXISTS idx_rooms_user_low ON rooms(user_low);
	CREATE INDEX IF NOT EXISTS idx_rooms_user_high ON rooms(user_high);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_unread ON messages(room_id, is_read, sender_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts a user row or refreshes its display name.
func (s *SQLiteStore) UpsertUser(ctx context.Context, id uuid.UUID, fullName string) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET full_name = excluded.full_name
	`, id.String(), fullName, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, is_online, last_seen, created_at
		FROM users WHERE id = ?
	`, id.String())
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var idStr string
	var isOnline int
	var lastSeen sql.NullTime
	err := row.Scan(&idStr, &user.FullName, &isOnline, &lastSeen, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	user.IsOnline = isOnline == 1
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeen = &t
	}
	return user, nil
}

// SetUserPresence persists an online/offline transition.
func (s *SQLiteStore) SetUserPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	onlineInt := 0
	if online {
		onlineInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?
	`, onlineInt, lastSeen.UTC(), id.String())
	return err
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms WHERE id = ?
	`, id.String())
	return scanRoom(row)
}

// FindRoomByMembers retrieves the room for an unordered user pair.
func (s *SQLiteStore) FindRoomByMembers(ctx context.Context, a, b uuid.UUID) (*models.Room, error) {
	low, high := models.NormalizePair(a, b)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms WHERE user_low = ? AND user_high = ?
	`, low.String(), high.String())
	return scanRoom(row)
}

func scanRoom(row *sql.Row) (*models.Room, error) {
	room := &models.Room{}
	var idStr, lowStr, highStr string
	err := row.Scan(&idStr, &lowStr, &highStr, &room.CreatedAt, &room.LastMessageAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.ID = uuid.MustParse(idStr)
	room.UserLow = uuid.MustParse(lowStr)
	room.UserHigh = uuid.MustParse(highStr)
	return room, nil
}

// EnsureRoom inserts the pair room if absent. The unique index on
// (user_low, user_high) makes concurrent first-messages converge on one
// row; the losing insert is a no-op and the winner is re-read.
func (s *SQLiteStore) EnsureRoom(ctx context.Context, id uuid.UUID, a, b uuid.UUID, now time.Time) (*models.Room, bool, error) {
	low, high := models.NormalizePair(a, b)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, user_low, user_high, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_low, user_high) DO NOTHING
	`, id.String(), low.String(), high.String(), now.UTC(), now.UTC())
	if err != nil {
		return nil, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	room, err := s.FindRoomByMembers(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return room, inserted > 0, nil
}

// ListRoomsForUser returns every room that includes the user.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	uid := userID.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_low, user_high, created_at, last_message_at
		FROM rooms
		WHERE user_low = ? OR user_high = ?
		ORDER BY last_message_at DESC
	`, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		var idStr, lowStr, highStr string
		if err := rows.Scan(&idStr, &lowStr, &highStr, &room.CreatedAt, &room.LastMessageAt); err != nil {
			return nil, err
		}
		room.ID = uuid.MustParse(idStr)
		room.UserLow = uuid.MustParse(lowStr)
		room.UserHigh = uuid.MustParse(highStr)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// TouchRoom updates the denormalized last-message timestamp.
func (s *SQLiteStore) TouchRoom(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_message_at = ? WHERE id = ?
	`, at.UTC(), id.String())
	return err
}

const sqliteRoomEntryQuery = `
	SELECT r.id, u.id, u.full_name, u.is_online, u.last_seen, u.created_at,
	       r.last_message_at,
	       (SELECT m.content FROM messages m WHERE m.room_id = r.id
	        ORDER BY m.created_at DESC, m.id DESC LIMIT 1),
	       (SELECT COUNT(*) FROM messages m WHERE m.room_id = r.id
	        AND m.sender_id <> ? AND m.is_read = 0)
	FROM rooms r
	JOIN users u ON u.id = CASE WHEN r.user_low = ? THEN r.user_high ELSE r.user_low END
	WHERE (r.user_low = ? OR r.user_high = ?)`

// ListRoomEntries returns the viewer's conversation list, online
// counterparts first, then most recently active.
func (s *SQLiteStore) ListRoomEntries(ctx context.Context, viewerID uuid.UUID, limit, offset int) ([]models.RoomEntry, int, error) {
	uid := viewerID.String()

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rooms WHERE user_low = ? OR user_high = ?
	`, uid, uid).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, sqliteRoomEntryQuery+`
		ORDER BY u.is_online DESC, r.last_message_at DESC
		LIMIT ? OFFSET ?
	`, uid, uid, uid, uid, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.RoomEntry
	for rows.Next() {
		entry, err := scanRoomEntryRows(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	return entries, total, rows.Err()
}

// GetRoomEntry returns one conversation-list row, or nil when the room
// does not exist or the viewer is not a member.
func (s *SQLiteStore) GetRoomEntry(ctx context.Context, viewerID, roomID uuid.UUID) (*models.RoomEntry, error) {
	uid := viewerID.String()
	rows, err := s.db.QueryContext(ctx, sqliteRoomEntryQuery+` AND r.id = ?`,
		uid, uid, uid, uid, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRoomEntryRows(rows)
}

func scanRoomEntryRows(rows *sql.Rows) (*models.RoomEntry, error) {
	var entry models.RoomEntry
	var roomStr, friendStr string
	var isOnline int
	var lastSeen sql.NullTime
	var lastMessage sql.NullString
	err := rows.Scan(&roomStr, &friendStr, &entry.Friend.FullName, &isOnline,
		&lastSeen, &entry.Friend.CreatedAt, &entry.LastMessageAt, &lastMessage, &entry.UnreadCount)
	if err != nil {
		return nil, err
	}
	entry.ID = uuid.MustParse(roomStr)
	entry.Friend.ID = uuid.MustParse(friendStr)
	entry.Friend.IsOnline = isOnline == 1
	if lastSeen.Valid {
		t := lastSeen.Time
		entry.Friend.LastSeen = &t
	}
	if lastMessage.Valid {
		entry.LastMessage = &lastMessage.String
	}
	return &entry, nil
}

// ListOnlineCounterparts returns the (room, co-member) pairs whose
// co-member is currently online, the user itself always excluded.
func (s *SQLiteStore) ListOnlineCounterparts(ctx context.Context, userID uuid.UUID) ([]Counterpart, error) {
	uid := userID.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, u.id
		FROM rooms r
		JOIN users u ON u.id = CASE WHEN r.user_low = ? THEN r.user_high ELSE r.user_low END
		WHERE (r.user_low = ? OR r.user_high = ?)
		  AND u.is_online = 1 AND u.id <> ?
	`, uid, uid, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Counterpart
	for rows.Next() {
		var roomStr, userStr string
		if err := rows.Scan(&roomStr, &userStr); err != nil {
			return nil, err
		}
		out = append(out, Counterpart{
			RoomID: uuid.MustParse(roomStr),
			UserID: uuid.MustParse(userStr),
		})
	}
	return out, rows.Err()
}

// InsertMessage persists a new message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	isRead := 0
	if msg.IsRead {
		isRead = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID.String(), msg.SenderID.String(), msg.Content, isRead, msg.CreatedAt.UTC())
	return err
}

// ListMessages returns messages newest-first with keyset pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	args := []any{roomID.String()}
	query := `
		SELECT id, room_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE room_id = ?`
	if beforeID != "" {
		// Anchor on the named message's (created_at, id) position.
		var anchor time.Time
		err := s.db.QueryRowContext(ctx, `
			SELECT created_at FROM messages WHERE id = ? AND room_id = ?
		`, beforeID, roomID.String()).Scan(&anchor)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []models.Message{}, nil
			}
			return nil, err
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, anchor, anchor, beforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var roomStr, senderStr string
		var isRead int
		if err := rows.Scan(&msg.ID, &roomStr, &senderStr, &msg.Content, &isRead, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.RoomID = uuid.MustParse(roomStr)
		msg.SenderID = uuid.MustParse(senderStr)
		msg.IsRead = isRead == 1
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flips unread counterpart-authored messages to read.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE room_id = ? AND sender_id <> ? AND is_read = 0
	`, roomID.String(), readerID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount counts unread messages in the room not authored by the user.
func (s *SQLiteStore) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND sender_id <> ? AND is_read = 0
	`, roomID.String(), userID.String()).Scan(&count)
	return count, err
}
