package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/apexkv/facebook-clone/internal/models"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ds, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return ds
}

func seedSQLiteUser(t *testing.T, ds *SQLiteStore, id uuid.UUID, name string) *models.User {
	t.Helper()
	user, err := ds.UpsertUser(context.Background(), id, name)
	require.NoError(t, err)
	return user
}

func TestSQLiteEnsureRoomReportsCreation(t *testing.T) {
	ds := newSQLiteTestStore(t)
	ctx := context.Background()

	alice := seedSQLiteUser(t, ds, uuid.New(), "Alice")
	bob := seedSQLiteUser(t, ds, uuid.New(), "Bob")
	now := time.Now().UTC()

	first, created, err := ds.EnsureRoom(ctx, uuid.New(), alice.ID, bob.ID, now)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, first)

	// The same pair in either order resolves to the first writer's row and
	// must not report a second creation, whatever timestamp it carries.
	second, created, err := ds.EnsureRoom(ctx, uuid.New(), bob.ID, alice.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestSQLiteGetRoomEntryScopedToRoom(t *testing.T) {
	ds := newSQLiteTestStore(t)
	ctx := context.Background()

	// Fixed ids so the viewer sorts below both friends and lands in the
	// user_low column of every room.
	viewer := seedSQLiteUser(t, ds, uuid.MustParse("11111111-1111-1111-1111-111111111111"), "Viewer")
	carol := seedSQLiteUser(t, ds, uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc"), "Carol")
	dave := seedSQLiteUser(t, ds, uuid.MustParse("dddddddd-dddd-dddd-dddd-dddddddddddd"), "Dave")

	now := time.Now().UTC()
	carolRoom, _, err := ds.EnsureRoom(ctx, uuid.New(), viewer.ID, carol.ID, now)
	require.NoError(t, err)
	require.Equal(t, viewer.ID, carolRoom.UserLow)
	daveRoom, _, err := ds.EnsureRoom(ctx, uuid.New(), viewer.ID, dave.ID, now)
	require.NoError(t, err)

	// A room id the viewer is low-member of nowhere must come back empty,
	// not fall through to some other room of theirs.
	entry, err := ds.GetRoomEntry(ctx, viewer.ID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, entry)

	// Each known id returns exactly that conversation.
	entry, err = ds.GetRoomEntry(ctx, viewer.ID, daveRoom.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, daveRoom.ID, entry.ID)
	require.Equal(t, dave.ID, entry.Friend.ID)

	entry, err = ds.GetRoomEntry(ctx, viewer.ID, carolRoom.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, carol.ID, entry.Friend.ID)

	// Non-members see nothing.
	entry, err = ds.GetRoomEntry(ctx, dave.ID, carolRoom.ID)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestSQLiteRoomEntryUnreadAndMarkRead(t *testing.T) {
	ds := newSQLiteTestStore(t)
	ctx := context.Background()

	viewer := seedSQLiteUser(t, ds, uuid.New(), "Viewer")
	friend := seedSQLiteUser(t, ds, uuid.New(), "Friend")

	now := time.Now().UTC()
	room, _, err := ds.EnsureRoom(ctx, uuid.New(), viewer.ID, friend.ID, now)
	require.NoError(t, err)

	for i, content := range []string{"first", "second"} {
		require.NoError(t, ds.InsertMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			RoomID:    room.ID,
			SenderID:  friend.ID,
			Content:   content,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	entry, err := ds.GetRoomEntry(ctx, viewer.ID, room.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.EqualValues(t, 2, entry.UnreadCount)
	require.NotNil(t, entry.LastMessage)
	require.Equal(t, "second", *entry.LastMessage)

	updated, err := ds.MarkMessagesRead(ctx, room.ID, viewer.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated)

	// Idempotent on repeat, and the unread projection agrees.
	updated, err = ds.MarkMessagesRead(ctx, room.ID, viewer.ID)
	require.NoError(t, err)
	require.Zero(t, updated)

	count, err := ds.UnreadCount(ctx, room.ID, viewer.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSQLiteListMessagesKeysetPaging(t *testing.T) {
	ds := newSQLiteTestStore(t)
	ctx := context.Background()

	alice := seedSQLiteUser(t, ds, uuid.New(), "Alice")
	bob := seedSQLiteUser(t, ds, uuid.New(), "Bob")

	now := time.Now().UTC()
	room, _, err := ds.EnsureRoom(ctx, uuid.New(), alice.ID, bob.ID, now)
	require.NoError(t, err)

	contents := []string{"one", "two", "three"}
	for i, content := range contents {
		require.NoError(t, ds.InsertMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			RoomID:    room.ID,
			SenderID:  alice.ID,
			Content:   content,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := ds.ListMessages(ctx, room.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "three", page[0].Content)
	require.Equal(t, "two", page[1].Content)

	rest, err := ds.ListMessages(ctx, room.ID, 2, page[1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "one", rest[0].Content)

	// Unknown anchors yield an empty page rather than restarting the feed.
	missing, err := ds.ListMessages(ctx, room.ID, 2, uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestSQLiteListOnlineCounterparts(t *testing.T) {
	ds := newSQLiteTestStore(t)
	ctx := context.Background()

	viewer := seedSQLiteUser(t, ds, uuid.New(), "Viewer")
	online := seedSQLiteUser(t, ds, uuid.New(), "Online")
	offline := seedSQLiteUser(t, ds, uuid.New(), "Offline")

	now := time.Now().UTC()
	onlineRoom, _, err := ds.EnsureRoom(ctx, uuid.New(), viewer.ID, online.ID, now)
	require.NoError(t, err)
	_, _, err = ds.EnsureRoom(ctx, uuid.New(), viewer.ID, offline.ID, now)
	require.NoError(t, err)

	require.NoError(t, ds.SetUserPresence(ctx, online.ID, true, now))
	require.NoError(t, ds.SetUserPresence(ctx, viewer.ID, true, now))

	counterparts, err := ds.ListOnlineCounterparts(ctx, viewer.ID)
	require.NoError(t, err)
	require.Len(t, counterparts, 1)
	require.Equal(t, onlineRoom.ID, counterparts[0].RoomID)
	require.Equal(t, online.ID, counterparts[0].UserID)
}
