package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apexkv/facebook-clone/internal/models"
)

// MemoryStore is an in-memory DataStore. It backs tests and lets the
// server run without a database in development. Not durable.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	rooms    map[uuid.UUID]*models.Room
	pairs    map[[2]uuid.UUID]uuid.UUID // normalized pair -> room id
	messages map[uuid.UUID][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*models.User),
		rooms:    make(map[uuid.UUID]*models.Room),
		pairs:    make(map[[2]uuid.UUID]uuid.UUID),
		messages: make(map[uuid.UUID][]*models.Message),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) UpsertUser(ctx context.Context, id uuid.UUID, fullName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		user = &models.User{ID: id, CreatedAt: time.Now().UTC()}
		s.users[id] = user
	}
	user.FullName = fullName
	out := *user
	return &out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	out := *user
	return &out, nil
}

func (s *MemoryStore) SetUserPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.IsOnline = online
		t := lastSeen
		user.LastSeen = &t
	}
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	out := *room
	return &out, nil
}

func (s *MemoryStore) FindRoomByMembers(ctx context.Context, a, b uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findRoomLocked(a, b), nil
}

func (s *MemoryStore) findRoomLocked(a, b uuid.UUID) *models.Room {
	low, high := models.NormalizePair(a, b)
	id, ok := s.pairs[[2]uuid.UUID{low, high}]
	if !ok {
		return nil
	}
	out := *s.rooms[id]
	return &out
}

func (s *MemoryStore) EnsureRoom(ctx context.Context, id uuid.UUID, a, b uuid.UUID, now time.Time) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findRoomLocked(a, b); existing != nil {
		return existing, false, nil
	}
	low, high := models.NormalizePair(a, b)
	room := &models.Room{
		ID:            id,
		UserLow:       low,
		UserHigh:      high,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	s.rooms[id] = room
	s.pairs[[2]uuid.UUID{low, high}] = id
	out := *room
	return &out, true, nil
}

func (s *MemoryStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []models.Room
	for _, room := range s.rooms {
		if room.HasMember(userID) {
			rooms = append(rooms, *room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt)
	})
	return rooms, nil
}

func (s *MemoryStore) TouchRoom(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok {
		room.LastMessageAt = at
	}
	return nil
}

func (s *MemoryStore) ListRoomEntries(ctx context.Context, viewerID uuid.UUID, limit, offset int) ([]models.RoomEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []models.RoomEntry
	for _, room := range s.rooms {
		if !room.HasMember(viewerID) {
			continue
		}
		entries = append(entries, s.roomEntryLocked(viewerID, room))
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Friend.IsOnline != entries[j].Friend.IsOnline {
			return entries[i].Friend.IsOnline
		}
		return entries[i].LastMessageAt.After(entries[j].LastMessageAt)
	})

	total := len(entries)
	if offset >= total {
		return []models.RoomEntry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return entries[offset:end], total, nil
}

func (s *MemoryStore) GetRoomEntry(ctx context.Context, viewerID, roomID uuid.UUID) (*models.RoomEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.HasMember(viewerID) {
		return nil, nil
	}
	entry := s.roomEntryLocked(viewerID, room)
	return &entry, nil
}

func (s *MemoryStore) roomEntryLocked(viewerID uuid.UUID, room *models.Room) models.RoomEntry {
	friendID, _ := room.OtherMember(viewerID)
	entry := models.RoomEntry{
		ID:            room.ID,
		LastMessageAt: room.LastMessageAt,
	}
	if friend, ok := s.users[friendID]; ok {
		entry.Friend = *friend
	} else {
		entry.Friend = models.User{ID: friendID}
	}
	msgs := s.messages[room.ID]
	if len(msgs) > 0 {
		content := msgs[len(msgs)-1].Content
		entry.LastMessage = &content
	}
	for _, msg := range msgs {
		if msg.SenderID != viewerID && !msg.IsRead {
			entry.UnreadCount++
		}
	}
	return entry
}

func (s *MemoryStore) ListOnlineCounterparts(ctx context.Context, userID uuid.UUID) ([]Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Counterpart
	for _, room := range s.rooms {
		friendID, ok := room.OtherMember(userID)
		if !ok || friendID == userID {
			continue
		}
		if friend, ok := s.users[friendID]; ok && friend.IsOnline {
			out = append(out, Counterpart{RoomID: room.ID, UserID: friendID})
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &stored)
	// Keep (created_at, id) order even if clocks collide.
	msgs := s.messages[msg.RoomID]
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[roomID]

	end := len(msgs)
	if beforeID != "" {
		end = 0
		for i, msg := range msgs {
			if msg.ID == beforeID {
				end = i
				break
			}
		}
	}

	var out []models.Message
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *msgs[i])
	}
	return out, nil
}

func (s *MemoryStore) MarkMessagesRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, msg := range s.messages[roomID] {
		if msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, msg := range s.messages[roomID] {
		if msg.SenderID != userID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}
