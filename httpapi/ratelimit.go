package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRequestsPerMinute = 120

// RateLimit provides per-user rate limiting via Redis. Redis being down must
// never take the API down with it, so errors fail open.
type RateLimit struct {
	client         *redis.Client
	requestsPerMin int
}

func NewRateLimit(client *redis.Client, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{client: client, requestsPerMin: requestsPerMin}
}

// Limit applies the per-user window. Unauthenticated requests pass through;
// auth runs first and already rejected them.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok || rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + userID
		count, err := rl.client.Incr(r.Context(), key).Result()
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.client.Expire(r.Context(), key, time.Minute)
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
