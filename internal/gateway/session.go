package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/models"
)

const (
	// writeWait is the deadline for a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before considering the
	// peer gone. Pings go out at pingPeriod, which must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Content is capped well
	// below this; the headroom covers the envelope.
	maxMessageSize = 8192
)

// ErrQueueFull is returned by Enqueue when the session's outbound
// buffer is saturated. The registry treats it as a dead connection.
var ErrQueueFull = errors.New("gateway: send queue full")

// ErrSessionClosed is returned by Enqueue after Close.
var ErrSessionClosed = errors.New("gateway: session closed")

// Session is one authenticated WebSocket connection. It satisfies
// hub.Conn; the registry only ever touches Enqueue and Close, so a
// slow client can never stall a broadcast.
type Session struct {
	id   string
	user *models.User
	conn *websocket.Conn
	log  zerolog.Logger

	sendchan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, user *models.User, queueSize int, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		user:     user,
		conn:     conn,
		log:      log.With().Str("session_id", id).Str("user_id", user.ID.String()).Logger(),
		sendchan: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) UserID() uuid.UUID { return s.user.ID }

// Enqueue hands a payload to the write pump without blocking.
func (s *Session) Enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.sendchan <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Close tears the session down. Safe to call from any goroutine and
// more than once; the read pump unblocks via the closed socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. One per session; it owns all writes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case payload := <-s.sendchan:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
