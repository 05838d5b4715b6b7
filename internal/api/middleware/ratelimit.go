package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/store"
)

// RateLimiter implements per-client request limiting backed by Redis.
// With no Redis configured it is a no-op.
type RateLimiter struct {
	cache  *store.RedisStore
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewRateLimiter creates a new rate limiter. cache may be nil.
func NewRateLimiter(cache *store.RedisStore, limit int, window time.Duration, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		cache:  cache,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Middleware counts requests per client IP over the window and rejects
// with 429 once the limit is exceeded. Redis failures fail open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cache == nil || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		// RealIP middleware has already rewritten RemoteAddr.
		count, err := rl.cache.IncrementRateLimit(r.Context(), r.RemoteAddr, rl.window)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(rl.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
