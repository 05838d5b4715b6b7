package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexkv/facebook-clone/internal/store"
)

func newFixtures(t *testing.T) (*store.MemoryStore, *Rooms, *Ledger) {
	t.Helper()
	ds := store.NewMemoryStore()
	return ds, NewRooms(ds, zerolog.Nop()), NewLedger(ds, zerolog.Nop())
}

func seedUsers(t *testing.T, ds *store.MemoryStore, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		_, err := ds.UpsertUser(context.Background(), ids[i], "user")
		require.NoError(t, err)
	}
	return ids
}

func TestResolveOrCreateIsOrderInsensitive(t *testing.T) {
	ds, rooms, _ := newFixtures(t)
	ids := seedUsers(t, ds, 2)
	ctx := context.Background()

	first, created, err := rooms.ResolveOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := rooms.ResolveOrCreate(ctx, ids[1], ids[0])
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestResolveOrCreateRejectsBadPairs(t *testing.T) {
	ds, rooms, _ := newFixtures(t)
	ids := seedUsers(t, ds, 1)
	ctx := context.Background()

	_, _, err := rooms.ResolveOrCreate(ctx, ids[0], ids[0])
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = rooms.ResolveOrCreate(ctx, ids[0], uuid.Nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetUnknownRoom(t *testing.T) {
	_, rooms, _ := newFixtures(t)

	_, err := rooms.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendValidation(t *testing.T) {
	ds, rooms, ledger := newFixtures(t)
	ids := seedUsers(t, ds, 3)
	ctx := context.Background()

	room, _, err := rooms.ResolveOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)

	_, err = ledger.Append(ctx, room, ids[0], "   ")
	require.ErrorIs(t, err, ErrValidation)

	_, err = ledger.Append(ctx, room, ids[0], strings.Repeat("a", MaxContentLength+1))
	require.ErrorIs(t, err, ErrValidation)

	_, err = ledger.Append(ctx, room, ids[2], "hello")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAppendTrimsAndStoresUnread(t *testing.T) {
	ds, rooms, ledger := newFixtures(t)
	ids := seedUsers(t, ds, 2)
	ctx := context.Background()

	room, _, err := rooms.ResolveOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)

	msg, err := ledger.Append(ctx, room, ids[0], "  hello  ")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Content)
	require.False(t, msg.IsRead)
	require.NotEmpty(t, msg.ID)

	unread, err := ledger.UnreadCount(ctx, room.ID, ids[1])
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)

	// The sender has nothing unread from itself.
	unread, err = ledger.UnreadCount(ctx, room.ID, ids[0])
	require.NoError(t, err)
	require.EqualValues(t, 0, unread)
}

func TestMarkReadIdempotent(t *testing.T) {
	ds, rooms, ledger := newFixtures(t)
	ids := seedUsers(t, ds, 2)
	ctx := context.Background()

	room, _, err := rooms.ResolveOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := ledger.Append(ctx, room, ids[0], "msg")
		require.NoError(t, err)
	}

	changed, err := ledger.MarkRead(ctx, room, ids[1])
	require.NoError(t, err)
	require.EqualValues(t, 3, changed)

	changed, err = ledger.MarkRead(ctx, room, ids[1])
	require.NoError(t, err)
	require.EqualValues(t, 0, changed)

	unread, err := ledger.UnreadCount(ctx, room.ID, ids[1])
	require.NoError(t, err)
	require.EqualValues(t, 0, unread)

	_, err = ledger.MarkRead(ctx, room, uuid.New())
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListNewestFirstWithPaging(t *testing.T) {
	ds, rooms, ledger := newFixtures(t)
	ids := seedUsers(t, ds, 2)
	ctx := context.Background()

	room, _, err := rooms.ResolveOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)

	var msgIDs []string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := ledger.Append(ctx, room, ids[0], content)
		require.NoError(t, err)
		msgIDs = append(msgIDs, msg.ID)
	}

	page, err := ledger.List(ctx, room, ids[1], 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "three", page[0].Content)
	require.Equal(t, "two", page[1].Content)

	older, err := ledger.List(ctx, room, ids[1], 2, page[1].ID)
	require.NoError(t, err)
	require.Len(t, older, 1)
	require.Equal(t, "one", older[0].Content)

	_, err = ledger.List(ctx, room, uuid.New(), 10, "")
	require.ErrorIs(t, err, ErrForbidden)

	// ULIDs order the same way the timestamps do.
	require.True(t, msgIDs[0] < msgIDs[1] && msgIDs[1] < msgIDs[2])
}
