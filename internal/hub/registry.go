// Package hub holds the in-memory connection registry: which sockets a
// user currently has open, and which connections belong to each room's
// fan-out group. Nothing here is persisted; on restart clients
// reconnect and the registry is rebuilt.
package hub

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/metrics"
)

// Conn is one live transport session bound to an authenticated user.
// Enqueue must not block: implementations buffer outbound payloads and
// fail fast when the buffer is full or the connection is gone.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Enqueue(payload []byte) error
	Close()
}

const numShards = 32

type userShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]Conn
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomGroup
}

type roomGroup struct {
	// sendMu serializes broadcasts within one room so recipients
	// observe them in issue order; unrelated rooms never contend.
	sendMu sync.Mutex
	conns  map[string]Conn
}

// Registry indexes live connections by user and by room. Locks are
// sharded by key so traffic in unrelated rooms does not serialize.
type Registry struct {
	log zerolog.Logger

	userShards [numShards]userShard
	roomShards [numShards]roomShard

	// connMu guards the reverse index used for teardown.
	connMu sync.Mutex
	conns  map[string]*connState
}

type connState struct {
	conn  Conn
	rooms map[uuid.UUID]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	r := &Registry{
		log:   log.With().Str("component", "hub").Logger(),
		conns: make(map[string]*connState),
	}
	for i := range r.userShards {
		r.userShards[i].users = make(map[uuid.UUID]map[string]Conn)
	}
	for i := range r.roomShards {
		r.roomShards[i].rooms = make(map[uuid.UUID]*roomGroup)
	}
	return r
}

func shardFor(id uuid.UUID) uint32 {
	h := fnv.New32a()
	h.Write(id[:])
	return h.Sum32() % numShards
}

// Register adds the connection to its user's set. Idempotent per
// connection ID.
func (r *Registry) Register(c Conn) {
	r.connMu.Lock()
	if _, ok := r.conns[c.ID()]; ok {
		r.connMu.Unlock()
		return
	}
	r.conns[c.ID()] = &connState{conn: c, rooms: make(map[uuid.UUID]bool)}
	r.connMu.Unlock()

	shard := &r.userShards[shardFor(c.UserID())]
	shard.mu.Lock()
	set, ok := shard.users[c.UserID()]
	if !ok {
		set = make(map[string]Conn)
		shard.users[c.UserID()] = set
	}
	set[c.ID()] = c
	shard.mu.Unlock()
}

// Unregister removes the connection from its user's set and from every
// room it joined. No-op if the connection is already gone.
func (r *Registry) Unregister(c Conn) {
	r.connMu.Lock()
	state, ok := r.conns[c.ID()]
	if !ok {
		r.connMu.Unlock()
		return
	}
	delete(r.conns, c.ID())
	joined := make([]uuid.UUID, 0, len(state.rooms))
	for roomID := range state.rooms {
		joined = append(joined, roomID)
	}
	r.connMu.Unlock()

	for _, roomID := range joined {
		r.removeFromRoom(roomID, c.ID())
	}

	shard := &r.userShards[shardFor(c.UserID())]
	shard.mu.Lock()
	if set, ok := shard.users[c.UserID()]; ok {
		delete(set, c.ID())
		if len(set) == 0 {
			delete(shard.users, c.UserID())
		}
	}
	shard.mu.Unlock()
}

// JoinRoom adds the connection to a room's fan-out group.
func (r *Registry) JoinRoom(roomID uuid.UUID, c Conn) {
	r.connMu.Lock()
	state, ok := r.conns[c.ID()]
	if !ok {
		// Unregistered connections cannot join; avoids resurrecting
		// membership after a concurrent teardown.
		r.connMu.Unlock()
		return
	}
	state.rooms[roomID] = true
	r.connMu.Unlock()

	shard := &r.roomShards[shardFor(roomID)]
	shard.mu.Lock()
	group, ok := shard.rooms[roomID]
	if !ok {
		group = &roomGroup{conns: make(map[string]Conn)}
		shard.rooms[roomID] = group
	}
	group.conns[c.ID()] = c
	shard.mu.Unlock()
}

// LeaveRoom removes the connection from a room's fan-out group.
func (r *Registry) LeaveRoom(roomID uuid.UUID, c Conn) {
	r.connMu.Lock()
	if state, ok := r.conns[c.ID()]; ok {
		delete(state.rooms, roomID)
	}
	r.connMu.Unlock()

	r.removeFromRoom(roomID, c.ID())
}

// JoinUserRoom joins every live connection of the user to the room.
// Used when a room is created lazily on first message, after the
// members' connect-time join already happened.
func (r *Registry) JoinUserRoom(roomID, userID uuid.UUID) {
	shard := &r.userShards[shardFor(userID)]
	shard.mu.RLock()
	conns := make([]Conn, 0, len(shard.users[userID]))
	for _, c := range shard.users[userID] {
		conns = append(conns, c)
	}
	shard.mu.RUnlock()

	for _, c := range conns {
		r.JoinRoom(roomID, c)
	}
}

func (r *Registry) removeFromRoom(roomID uuid.UUID, connID string) {
	shard := &r.roomShards[shardFor(roomID)]
	shard.mu.Lock()
	if group, ok := shard.rooms[roomID]; ok {
		delete(group.conns, connID)
		if len(group.conns) == 0 {
			delete(shard.rooms, roomID)
		}
	}
	shard.mu.Unlock()
}

// Broadcast delivers the payload to every connection joined to the
// room, skipping connections owned by excludeUser (uuid.Nil excludes
// nobody). Delivery failures are isolated per recipient: the failing
// connection is unregistered and closed, and the rest still receive
// the payload. Broadcasts within one room are serialized.
func (r *Registry) Broadcast(roomID uuid.UUID, payload []byte, excludeUser uuid.UUID) {
	shard := &r.roomShards[shardFor(roomID)]
	shard.mu.RLock()
	group, ok := shard.rooms[roomID]
	shard.mu.RUnlock()
	if !ok {
		return
	}

	group.sendMu.Lock()
	shard.mu.RLock()
	targets := make([]Conn, 0, len(group.conns))
	for _, c := range group.conns {
		if excludeUser != uuid.Nil && c.UserID() == excludeUser {
			continue
		}
		targets = append(targets, c)
	}
	shard.mu.RUnlock()

	var failed []Conn
	for _, c := range targets {
		if err := c.Enqueue(payload); err != nil {
			metrics.DeliveryFailures.Inc()
			r.log.Warn().
				Str("conn_id", c.ID()).
				Str("user_id", c.UserID().String()).
				Err(err).
				Msg("dropping connection after failed delivery")
			failed = append(failed, c)
		}
	}
	group.sendMu.Unlock()

	for _, c := range failed {
		r.Unregister(c)
		c.Close()
	}
}

// CloseAll closes every live connection. Closing unblocks each
// session's read loop, which runs its own teardown (unregister,
// presence offline). Used during shutdown.
func (r *Registry) CloseAll() {
	r.connMu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, state := range r.conns {
		conns = append(conns, state.conn)
	}
	r.connMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// ConnCount returns the number of live connections.
func (r *Registry) ConnCount() int {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return len(r.conns)
}

// UserConnCount returns how many connections the user currently holds.
func (r *Registry) UserConnCount(userID uuid.UUID) int {
	shard := &r.userShards[shardFor(userID)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.users[userID])
}
