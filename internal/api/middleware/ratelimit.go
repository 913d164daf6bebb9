package middleware

import (
	"encoding/json"
	"net/http"

	"livechat-backend/internal/ratelimit"

	"github.com/rs/zerolog"
)

// RateLimit rejects requests over the limit with 429. Limiter errors let the
// request through.
func RateLimit(limiter ratelimit.Limiter, keyFunc func(*http.Request) string, log zerolog.Logger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Error().Err(err).Str("key", key).Msg("rate limiter unavailable")
				next(w, r)
				return
			}
			if !allowed {
				log.Warn().Str("key", key).Msg("rate limited")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"message": "Too many requests"})
				return
			}
			next(w, r)
		}
	}
}
