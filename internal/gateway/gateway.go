// Package gateway owns the WebSocket surface: upgrading connections,
// authenticating them, and dispatching the event protocol.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/auth"
	"github.com/apexkv/facebook-clone/internal/chat"
	"github.com/apexkv/facebook-clone/internal/events"
	"github.com/apexkv/facebook-clone/internal/hub"
	"github.com/apexkv/facebook-clone/internal/metrics"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/presence"
	"github.com/apexkv/facebook-clone/internal/store"
)

// eventTimeout bounds the work done for a single inbound event.
const eventTimeout = 5 * time.Second

type eventHandler func(ctx context.Context, s *Session, data json.RawMessage) error

// Gateway upgrades HTTP requests to WebSocket sessions and routes the
// chat event protocol between them.
type Gateway struct {
	registry  *hub.Registry
	tracker   *presence.Tracker
	rooms     *chat.Rooms
	ledger    *chat.Ledger
	store     store.DataStore
	validator auth.Validator
	log       zerolog.Logger
	queueSize int
	upgrader  websocket.Upgrader
	handlers  map[events.Type]eventHandler
}

func New(registry *hub.Registry, tracker *presence.Tracker, rooms *chat.Rooms, ledger *chat.Ledger, ds store.DataStore, validator auth.Validator, queueSize int, log zerolog.Logger) *Gateway {
	g := &Gateway{
		registry:  registry,
		tracker:   tracker,
		rooms:     rooms,
		ledger:    ledger,
		store:     ds,
		validator: validator,
		log:       log.With().Str("component", "gateway").Logger(),
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers send Origin; cross-origin policy is enforced at
			// the edge, the token is what authenticates the socket.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	g.handlers = map[events.Type]eventHandler{
		events.ChatMessage: g.handleChatMessage,
		events.ChatRead:    g.handleChatRead,
		events.TypingStart: g.typingHandler(events.TypingStart),
		events.TypingStop:  g.typingHandler(events.TypingStop),
	}
	return g
}

// ServeHTTP authenticates and upgrades the request, then runs the
// session until the peer goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	user, err := g.store.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(conn, user, g.queueSize, g.log)
	g.registry.Register(s)
	metrics.ConnectionsActive.Inc()
	s.log.Info().Msg("session opened")

	defer func() {
		g.registry.Unregister(s)
		s.Close()
		metrics.ConnectionsActive.Dec()

		// Teardown must run even when the request context is gone.
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		g.tracker.ConnectionClosed(ctx, user)
		s.log.Info().Msg("session closed")
	}()

	g.joinRooms(r.Context(), s)
	g.tracker.ConnectionOpened(r.Context(), user)

	go s.writePump()
	g.readLoop(r.Context(), s)
}

// joinRooms subscribes the session to every room the user is a member
// of. A failed listing leaves the session up; the user can still be
// joined lazily when a message arrives.
func (g *Gateway) joinRooms(ctx context.Context, s *Session) {
	rooms, err := g.rooms.ListForUser(ctx, s.user.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("room listing failed on connect")
		return
	}
	for i := range rooms {
		g.registry.JoinRoom(rooms[i].ID, s)
	}
}

func (g *Gateway) readLoop(ctx context.Context, s *Session) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.tracker.Refresh(ctx, s.user.ID)
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		var in events.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			g.dropEvent(s, "", "validation", err)
			continue
		}
		g.dispatch(ctx, s, in)
	}
}

// dispatch routes one inbound event. Bad events are counted and
// logged; the session always survives them.
func (g *Gateway) dispatch(ctx context.Context, s *Session, in events.Inbound) {
	metrics.EventsReceived.WithLabelValues(string(in.Type)).Inc()

	h, ok := g.handlers[in.Type]
	if !ok {
		g.dropEvent(s, in.Type, "unknown_type", nil)
		return
	}

	evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if err := h(evCtx, s, in.Data); err != nil {
		switch {
		case errors.Is(err, chat.ErrValidation):
			g.dropEvent(s, in.Type, "validation", err)
		case errors.Is(err, chat.ErrNotFound):
			g.dropEvent(s, in.Type, "not_found", err)
		case errors.Is(err, chat.ErrForbidden):
			g.dropEvent(s, in.Type, "forbidden", err)
		default:
			g.dropEvent(s, in.Type, "storage", err)
		}
	}
}

func (g *Gateway) dropEvent(s *Session, t events.Type, reason string, err error) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	ev := s.log.Warn().Str("event_type", string(t)).Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("event dropped")
}

func (g *Gateway) handleChatMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var body events.MessageData
	if err := json.Unmarshal(data, &body); err != nil {
		return chat.ErrValidation
	}
	_, _, err := g.PublishMessage(ctx, s.user, body.Room, body.Content)
	return err
}

func (g *Gateway) handleChatRead(ctx context.Context, s *Session, data json.RawMessage) error {
	var body events.RoomData
	if err := json.Unmarshal(data, &body); err != nil {
		return chat.ErrValidation
	}
	roomID, err := uuid.Parse(body.Room)
	if err != nil {
		return chat.ErrValidation
	}
	_, err = g.PublishRead(ctx, s.user, roomID)
	return err
}

// typingHandler builds the handler for typing start/stop. Typing is
// ephemeral: validated and fanned out, never persisted.
func (g *Gateway) typingHandler(t events.Type) eventHandler {
	return func(ctx context.Context, s *Session, data json.RawMessage) error {
		var body events.RoomData
		if err := json.Unmarshal(data, &body); err != nil {
			return chat.ErrValidation
		}
		roomID, err := uuid.Parse(body.Room)
		if err != nil {
			return chat.ErrValidation
		}
		room, err := g.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if !room.HasMember(s.user.ID) {
			return chat.ErrForbidden
		}
		payload, err := events.Marshal(t, events.RoomRef{
			Room: room.ID.String(),
			User: s.user.ID.String(),
		})
		if err != nil {
			return err
		}
		metrics.BroadcastsTotal.WithLabelValues(string(t)).Inc()
		g.registry.Broadcast(room.ID, payload, s.user.ID)
		return nil
	}
}

// PublishMessage stores a message and fans it out to the room's other
// live connections. roomRef carries either an existing room id or, on
// first contact, the peer's user id; in the latter case the room is
// created and both members' live sessions join it. The sender never
// receives its own message back.
func (g *Gateway) PublishMessage(ctx context.Context, sender *models.User, roomRef, content string) (*models.Message, *models.Room, error) {
	ref, err := uuid.Parse(roomRef)
	if err != nil {
		return nil, nil, chat.ErrValidation
	}

	room, err := g.rooms.Get(ctx, ref)
	switch {
	case err == nil:
		// Existing room; membership is enforced on append.
	case errors.Is(err, chat.ErrNotFound):
		room, err = g.resolvePeerRoom(ctx, sender.ID, ref)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	msg, err := g.ledger.Append(ctx, room, sender.ID, content)
	if err != nil {
		return nil, nil, err
	}

	peerID, _ := room.OtherMember(sender.ID)
	view := models.ViewMessage(msg, *sender, peerID)
	payload, err := events.Marshal(events.ChatMessage, view)
	if err != nil {
		return nil, nil, err
	}
	metrics.BroadcastsTotal.WithLabelValues(string(events.ChatMessage)).Inc()
	g.registry.Broadcast(room.ID, payload, sender.ID)
	return msg, room, nil
}

// resolvePeerRoom treats ref as the peer's user id and finds or
// creates the pair's room.
func (g *Gateway) resolvePeerRoom(ctx context.Context, senderID, ref uuid.UUID) (*models.Room, error) {
	if ref == senderID {
		return nil, chat.ErrValidation
	}
	peer, err := g.store.GetUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, chat.ErrNotFound
	}
	room, created, err := g.rooms.ResolveOrCreate(ctx, senderID, peer.ID)
	if err != nil {
		return nil, err
	}
	if created {
		g.registry.JoinUserRoom(room.ID, room.UserLow)
		g.registry.JoinUserRoom(room.ID, room.UserHigh)
	}
	return room, nil
}

// PublishRead marks the room's messages read for the reader and, when
// anything changed, notifies the counterpart. Idempotent.
func (g *Gateway) PublishRead(ctx context.Context, reader *models.User, roomID uuid.UUID) (int64, error) {
	room, err := g.rooms.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	count, err := g.ledger.MarkRead(ctx, room, reader.ID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	payload, err := events.Marshal(events.ChatRead, events.RoomRef{
		Room: room.ID.String(),
		User: reader.ID.String(),
	})
	if err != nil {
		return count, err
	}
	metrics.BroadcastsTotal.WithLabelValues(string(events.ChatRead)).Inc()
	g.registry.Broadcast(room.ID, payload, reader.ID)
	return count, nil
}
