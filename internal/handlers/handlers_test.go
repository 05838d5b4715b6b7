package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexkv/facebook-clone/internal/api"
	"github.com/apexkv/facebook-clone/internal/api/middleware"
	"github.com/apexkv/facebook-clone/internal/auth"
	"github.com/apexkv/facebook-clone/internal/chat"
	"github.com/apexkv/facebook-clone/internal/gateway"
	"github.com/apexkv/facebook-clone/internal/handlers"
	"github.com/apexkv/facebook-clone/internal/hub"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/presence"
	"github.com/apexkv/facebook-clone/internal/store"
)

const testSecret = "test-secret"

type env struct {
	ds     *store.MemoryStore
	router http.Handler
	alice  *models.User
	bob    *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	ds := store.NewMemoryStore()
	registry := hub.NewRegistry(log)
	tracker := presence.NewTracker(ds, nil, registry, log, time.Second)
	rooms := chat.NewRooms(ds, log)
	ledger := chat.NewLedger(ds, log)
	validator := auth.NewJWTValidator(testSecret)
	gw := gateway.New(registry, tracker, rooms, ledger, ds, validator, 16, log)

	h := handlers.NewHandler(ds, nil, nil, rooms, ledger, gw)
	authmw := middleware.NewAuthMiddleware(validator, ds)
	limiter := middleware.NewRateLimiter(nil, 0, 0, log)
	router := api.NewRouter(log, h, authmw, limiter, gw)

	alice, err := ds.UpsertUser(ctx, uuid.New(), "Alice")
	require.NoError(t, err)
	bob, err := ds.UpsertUser(ctx, uuid.New(), "Bob")
	require.NoError(t, err)

	return &env{ds: ds, router: router, alice: alice, bob: bob}
}

func tokenFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *env) do(t *testing.T, as *models.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, as.ID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRequiresAuth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, nil, http.MethodGet, "/api/chat/users/", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/users/", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownUserRejected(t *testing.T) {
	e := newEnv(t)
	ghost := &models.User{ID: uuid.New()}

	rec := e.do(t, ghost, http.MethodGet, "/api/chat/users/", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmptyRoomList(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, e.alice, http.MethodGet, "/api/chat/users/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Zero(t, resp.Count)
	require.Empty(t, resp.Results)
	require.Nil(t, resp.Next)
	require.Nil(t, resp.Previous)
}

func TestMessageLifecycle(t *testing.T) {
	e := newEnv(t)

	// First contact: the path addresses the peer, not a room.
	rec := e.do(t, e.alice, http.MethodPost,
		fmt.Sprintf("/api/chat/messages/%s/", e.bob.ID), map[string]string{"content": "hi bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var posted models.MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.Equal(t, "sent", posted.Direction)
	require.Equal(t, "hi bob", posted.Content)
	require.Equal(t, e.alice.ID, posted.User.ID)
	roomID := posted.Room

	// Bob's conversation list shows the unread preview.
	rec = e.do(t, e.bob, http.MethodGet, "/api/chat/users/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, e.alice.ID, list.Results[0].Friend.ID)
	require.EqualValues(t, 1, list.Results[0].UnreadCount)
	require.NotNil(t, list.Results[0].LastMessage)
	require.Equal(t, "hi bob", *list.Results[0].LastMessage)

	// Single conversation from bob's side.
	rec = e.do(t, e.bob, http.MethodGet, fmt.Sprintf("/api/chat/users/%s/user/", roomID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry models.RoomEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, e.alice.ID, entry.Friend.ID)

	// History renders direction per viewer.
	rec = e.do(t, e.bob, http.MethodGet, fmt.Sprintf("/api/chat/messages/%s/", roomID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, "received", msgs[0].Direction)
	require.Equal(t, e.alice.ID, msgs[0].User.ID)

	// Read receipt flips the unread count, idempotently.
	rec = e.do(t, e.bob, http.MethodPost, fmt.Sprintf("/api/chat/messages/%s/read/", roomID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var read map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &read))
	require.EqualValues(t, 1, read["updated"])

	rec = e.do(t, e.bob, http.MethodPost, fmt.Sprintf("/api/chat/messages/%s/read/", roomID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &read))
	require.Zero(t, read["updated"])

	rec = e.do(t, e.bob, http.MethodGet, "/api/chat/users/", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Zero(t, list.Results[0].UnreadCount)
}

func TestOutsiderCannotReadRoom(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, e.alice, http.MethodPost,
		fmt.Sprintf("/api/chat/messages/%s/", e.bob.ID), map[string]string{"content": "private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var posted models.MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))

	mallory, err := e.ds.UpsertUser(context.Background(), uuid.New(), "Mallory")
	require.NoError(t, err)

	rec = e.do(t, mallory, http.MethodGet, fmt.Sprintf("/api/chat/messages/%s/", posted.Room), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, mallory, http.MethodGet, fmt.Sprintf("/api/chat/users/%s/user/", posted.Room), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, e.alice, http.MethodPost,
		fmt.Sprintf("/api/chat/messages/%s/", e.bob.ID), map[string]string{"content": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, e.alice, http.MethodPost,
		fmt.Sprintf("/api/chat/messages/%s/", uuid.New()), map[string]string{"content": "hello?"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, e.alice, http.MethodPost,
		"/api/chat/messages/not-a-uuid/", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "pass", resp.Checks["database"].Status)
}
