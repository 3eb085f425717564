package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimit caps broadcast sends per admin per minute using a fixed Redis
// window. A nil client disables the limiter. Redis outages fail open: an
// admin tool should degrade to unlimited, not lock every operator out.
func RateLimit(client *redis.Client, perMinute int64, logger *slog.Logger) func(http.Handler) http.Handler {
	l := logger.With("layer", "middleware", "component", "rateLimit")
	return func(next http.Handler) http.Handler {
		if client == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin, ok := AdminFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			key := fmt.Sprintf("broadcast:ratelimit:%d", admin.ID)

			count, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				l.Warn("Rate limit check unavailable", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				client.Expire(r.Context(), key, rateLimitWindow)
			}
			if count > perMinute {
				l.Warn("Rate limit exceeded",
					slog.Int64("admin_id", admin.ID),
					slog.Int64("count", count))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":"rate limit exceeded, try again later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
