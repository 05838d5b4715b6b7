// Package presence tracks users' online/offline state and tells their
// conversation partners about transitions.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/events"
	"github.com/apexkv/facebook-clone/internal/metrics"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/store"
)

// Broadcaster fans a payload out to a room's live connections.
// Satisfied by *hub.Registry.
type Broadcaster interface {
	Broadcast(roomID uuid.UUID, payload []byte, excludeUser uuid.UUID)
}

// Tracker maintains online/offline state per user. A user is Online
// while it holds at least one connection; the first connection brings
// it online, the last one going away takes it offline.
type Tracker struct {
	store        store.DataStore
	cache        *store.RedisStore // optional, nil when Redis is not configured
	broadcaster  Broadcaster
	log          zerolog.Logger
	queryTimeout time.Duration

	mu    sync.Mutex
	conns map[uuid.UUID]int
}

// NewTracker creates a presence tracker. cache may be nil.
func NewTracker(ds store.DataStore, cache *store.RedisStore, b Broadcaster, log zerolog.Logger, queryTimeout time.Duration) *Tracker {
	return &Tracker{
		store:        ds,
		cache:        cache,
		broadcaster:  b,
		log:          log.With().Str("component", "presence").Logger(),
		queryTimeout: queryTimeout,
		conns:        make(map[uuid.UUID]int),
	}
}

// ConnectionOpened records a new connection for the user. On the first
// connection the user transitions Offline -> Online: the flag is
// persisted and online co-members of the user's rooms are notified.
func (t *Tracker) ConnectionOpened(ctx context.Context, user *models.User) {
	t.mu.Lock()
	t.conns[user.ID]++
	first := t.conns[user.ID] == 1
	count := len(t.conns)
	t.mu.Unlock()

	metrics.UsersOnline.Set(float64(count))
	if !first {
		return
	}

	now := time.Now().UTC()
	if err := t.store.SetUserPresence(ctx, user.ID, true, now); err != nil {
		// A failed write must not block the connection; presence will
		// self-correct on the next transition.
		t.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("persist online failed")
	}
	if t.cache != nil {
		if err := t.cache.SetOnline(ctx, user.ID.String()); err != nil {
			t.log.Warn().Err(err).Msg("presence cache set failed")
		}
	}
	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	t.log.Info().Str("user_id", user.ID.String()).Msg("user online")

	snapshot := *user
	snapshot.IsOnline = true
	snapshot.LastSeen = &now
	t.notifyCounterparts(ctx, &snapshot, events.FriendOnline)
}

// ConnectionClosed records a closed connection. When the last
// connection goes away the user transitions Online -> Offline and the
// same counterpart set is notified. Persistence failures never block
// socket teardown.
func (t *Tracker) ConnectionClosed(ctx context.Context, user *models.User) {
	t.mu.Lock()
	t.conns[user.ID]--
	last := t.conns[user.ID] <= 0
	if last {
		delete(t.conns, user.ID)
	}
	count := len(t.conns)
	t.mu.Unlock()

	metrics.UsersOnline.Set(float64(count))
	if !last {
		return
	}

	now := time.Now().UTC()

	// Counterparts are computed before the offline flag lands so the
	// set matches what friends saw while the user was connected; the
	// user itself is excluded by the query and again at dispatch.
	snapshot := *user
	snapshot.IsOnline = false
	snapshot.LastSeen = &now
	t.notifyCounterparts(ctx, &snapshot, events.FriendOffline)

	if err := t.store.SetUserPresence(ctx, user.ID, false, now); err != nil {
		t.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("persist offline failed")
	}
	if t.cache != nil {
		if err := t.cache.SetOffline(ctx, user.ID.String()); err != nil {
			t.log.Warn().Err(err).Msg("presence cache del failed")
		}
	}
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	t.log.Info().Str("user_id", user.ID.String()).Msg("user offline")
}

// Refresh extends the cached presence entry for a still-connected
// user. Called on socket keepalives so the cache TTL outlives idle
// connections.
func (t *Tracker) Refresh(ctx context.Context, userID uuid.UUID) {
	if t.cache == nil {
		return
	}
	if err := t.cache.RefreshOnline(ctx, userID.String()); err != nil {
		t.log.Warn().Err(err).Msg("presence cache refresh failed")
	}
}

// notifyCounterparts fans the transition out to every room whose other
// member is online. Best effort: a slow or failing query is bounded by
// queryTimeout and the connection proceeds regardless.
func (t *Tracker) notifyCounterparts(ctx context.Context, user *models.User, eventType events.Type) {
	queryCtx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	counterparts, err := t.store.ListOnlineCounterparts(queryCtx, user.ID)
	if err != nil {
		t.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("counterpart query failed")
		return
	}

	for _, cp := range counterparts {
		if cp.UserID == user.ID {
			// Self-delivery is filtered here regardless of what the
			// query returned, and again by the exclude below.
			continue
		}
		payload, err := events.Marshal(eventType, events.Presence{
			ID:     cp.RoomID,
			Friend: *user,
			User:   cp.UserID.String(),
			Room:   cp.RoomID.String(),
		})
		if err != nil {
			t.log.Error().Err(err).Msg("marshal presence event")
			continue
		}
		metrics.BroadcastsTotal.WithLabelValues(string(eventType)).Inc()
		t.broadcaster.Broadcast(cp.RoomID, payload, user.ID)
	}
}

// Online reports whether the tracker currently holds connections for
// the user.
func (t *Tracker) Online(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0
}
