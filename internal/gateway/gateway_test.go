package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexkv/facebook-clone/internal/auth"
	"github.com/apexkv/facebook-clone/internal/chat"
	"github.com/apexkv/facebook-clone/internal/events"
	"github.com/apexkv/facebook-clone/internal/hub"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/presence"
	"github.com/apexkv/facebook-clone/internal/store"
)

type stubConn struct {
	id     string
	userID uuid.UUID

	mu       sync.Mutex
	payloads [][]byte
}

func newStubConn(userID uuid.UUID) *stubConn {
	return &stubConn{id: uuid.NewString(), userID: userID}
}

func (c *stubConn) ID() string        { return c.id }
func (c *stubConn) UserID() uuid.UUID { return c.userID }
func (c *stubConn) Close()            {}

func (c *stubConn) Enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *stubConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

type testEnv struct {
	ds       *store.MemoryStore
	registry *hub.Registry
	gw       *Gateway
	alice    *models.User
	bob      *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	ds := store.NewMemoryStore()
	registry := hub.NewRegistry(log)
	tracker := presence.NewTracker(ds, nil, registry, log, time.Second)
	rooms := chat.NewRooms(ds, log)
	ledger := chat.NewLedger(ds, log)
	gw := New(registry, tracker, rooms, ledger, ds, auth.NewJWTValidator("secret"), 16, log)

	alice, err := ds.UpsertUser(ctx, uuid.New(), "Alice")
	require.NoError(t, err)
	bob, err := ds.UpsertUser(ctx, uuid.New(), "Bob")
	require.NoError(t, err)

	return &testEnv{ds: ds, registry: registry, gw: gw, alice: alice, bob: bob}
}

func decodeEnvelope(t *testing.T, payload []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Type    string `json:"type"`
		Message struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	require.Equal(t, env.Type, env.Message.Type)
	return env.Type, env.Message.Data
}

func TestFirstContactDeliversWithoutEcho(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	aliceConn := newStubConn(env.alice.ID)
	bobConn := newStubConn(env.bob.ID)
	env.registry.Register(aliceConn)
	env.registry.Register(bobConn)

	// First contact addresses the peer's user id; the room does not
	// exist yet.
	msg, room, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)
	require.NotNil(t, room)
	require.True(t, room.HasMember(env.alice.ID))
	require.True(t, room.HasMember(env.bob.ID))

	payloads := bobConn.received()
	require.Len(t, payloads, 1)
	eventType, data := decodeEnvelope(t, payloads[0])
	require.Equal(t, "chat.message", eventType)
	require.Equal(t, msg.ID, data["id"])
	require.Equal(t, "hi", data["content"])
	require.Equal(t, "received", data["direction"])
	require.Equal(t, room.ID.String(), data["room"])

	// The sender never gets its own message back.
	require.Empty(t, aliceConn.received())

	unread, err := env.ds.UnreadCount(ctx, room.ID, env.bob.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)
}

func TestSecondMessageReusesRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, first, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)

	// Replying by room id and by peer id both land in the same room.
	_, second, err := env.gw.PublishMessage(ctx, env.bob, first.ID.String(), "hey")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, third, err := env.gw.PublishMessage(ctx, env.bob, env.alice.ID.String(), "again")
	require.NoError(t, err)
	require.Equal(t, first.ID, third.ID)
}

func TestPublishMessageRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.gw.PublishMessage(ctx, env.alice, "not-a-uuid", "hi")
	require.ErrorIs(t, err, chat.ErrValidation)

	_, _, err = env.gw.PublishMessage(ctx, env.alice, uuid.NewString(), "hi")
	require.ErrorIs(t, err, chat.ErrNotFound)

	_, _, err = env.gw.PublishMessage(ctx, env.alice, env.alice.ID.String(), "hi")
	require.ErrorIs(t, err, chat.ErrValidation)

	_, _, err = env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "   ")
	require.ErrorIs(t, err, chat.ErrValidation)

	// A third party cannot post into someone else's room.
	_, room, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)
	mallory, err := env.ds.UpsertUser(ctx, uuid.New(), "Mallory")
	require.NoError(t, err)
	_, _, err = env.gw.PublishMessage(ctx, mallory, room.ID.String(), "intruding")
	require.ErrorIs(t, err, chat.ErrForbidden)
}

func TestPublishReadNotifiesSenderOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	aliceConn := newStubConn(env.alice.ID)
	bobConn := newStubConn(env.bob.ID)
	env.registry.Register(aliceConn)
	env.registry.Register(bobConn)

	_, room, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)

	count, err := env.gw.PublishRead(ctx, env.bob, room.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	payloads := aliceConn.received()
	require.Len(t, payloads, 1)
	eventType, data := decodeEnvelope(t, payloads[0])
	require.Equal(t, "chat.read", eventType)
	require.Equal(t, room.ID.String(), data["room"])
	require.Equal(t, env.bob.ID.String(), data["user"])

	// The reader is not notified about its own receipt.
	require.Len(t, bobConn.received(), 1) // just the original message

	// Idempotent: nothing left to mark, nothing broadcast.
	count, err = env.gw.PublishRead(ctx, env.bob, room.ID)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, aliceConn.received(), 1)

	unread, err := env.ds.UnreadCount(ctx, room.ID, env.bob.ID)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestPublishReadUnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gw.PublishRead(context.Background(), env.alice, uuid.New())
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestLazyRoomJoinReachesLiveConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Bob is connected on two devices before any room exists.
	phone := newStubConn(env.bob.ID)
	laptop := newStubConn(env.bob.ID)
	env.registry.Register(phone)
	env.registry.Register(laptop)

	_, _, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)

	require.Len(t, phone.received(), 1)
	require.Len(t, laptop.received(), 1)
}

func TestTypingFansOutWithoutEcho(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	aliceConn := newStubConn(env.alice.ID)
	bobConn := newStubConn(env.bob.ID)
	env.registry.Register(aliceConn)
	env.registry.Register(bobConn)

	_, room, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)
	delivered := len(bobConn.received())

	session := &Session{id: uuid.NewString(), user: env.alice, log: zerolog.Nop()}
	body, err := json.Marshal(events.RoomData{Room: room.ID.String()})
	require.NoError(t, err)

	for _, typ := range []events.Type{events.TypingStart, events.TypingStop} {
		require.NoError(t, env.gw.typingHandler(typ)(ctx, session, body))
	}

	payloads := bobConn.received()[delivered:]
	require.Len(t, payloads, 2)
	for i, typ := range []events.Type{events.TypingStart, events.TypingStop} {
		eventType, data := decodeEnvelope(t, payloads[i])
		require.Equal(t, string(typ), eventType)
		require.Equal(t, room.ID.String(), data["room"])
		require.Equal(t, env.alice.ID.String(), data["user"])
	}

	// The typist never hears their own indicator.
	require.Empty(t, aliceConn.received())
}

func TestTypingRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, room, err := env.gw.PublishMessage(ctx, env.alice, env.bob.ID.String(), "hi")
	require.NoError(t, err)

	handler := env.gw.typingHandler(events.TypingStart)
	session := &Session{id: uuid.NewString(), user: env.alice, log: zerolog.Nop()}

	mustBody := func(roomRef string) json.RawMessage {
		body, err := json.Marshal(events.RoomData{Room: roomRef})
		require.NoError(t, err)
		return body
	}

	require.ErrorIs(t, handler(ctx, session, json.RawMessage(`{`)), chat.ErrValidation)
	require.ErrorIs(t, handler(ctx, session, mustBody("not-a-uuid")), chat.ErrValidation)
	require.ErrorIs(t, handler(ctx, session, mustBody(uuid.NewString())), chat.ErrNotFound)

	mallory, err := env.ds.UpsertUser(ctx, uuid.New(), "Mallory")
	require.NoError(t, err)
	intruder := &Session{id: uuid.NewString(), user: mallory, log: zerolog.Nop()}
	require.ErrorIs(t, handler(ctx, intruder, mustBody(room.ID.String())), chat.ErrForbidden)
}
