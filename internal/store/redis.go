package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 90 * time.Second

// RedisStore handles Redis operations: a best-effort presence cache
// consumed by sibling services, and rate-limit counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that needs it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// presenceKey returns the key mirroring a user's online state.
func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// rateLimitKey returns the key for a client's rate limit counter.
func rateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}

// SetOnline mirrors an online transition. The TTL guards against
// stale entries if the service dies without marking users offline.
func (s *RedisStore) SetOnline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, presenceKey(userID), "1", presenceTTL).Err()
}

// RefreshOnline extends the presence entry for a still-connected user.
func (s *RedisStore) RefreshOnline(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

// SetOffline drops the presence entry.
func (s *RedisStore) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, presenceKey(userID)).Err()
}

// IncrementRateLimit bumps a client's counter within the window and
// returns the new count. The first hit in a window sets the expiry.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, clientID string, window time.Duration) (int64, error) {
	key := rateLimitKey(clientID)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
