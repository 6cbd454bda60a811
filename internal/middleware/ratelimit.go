package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

const rateLimitWindow = time.Minute

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests","code":"rate_limited"}`))
}

// RateLimit ограничивает запросы к /api/* по IP и по участнику (если он уже в контексте):
// скользящее окно в минуту, 429 с Retry-After при превышении.
// Лимит <= 0 отключает соответствующую проверку.
func RateLimit(perIP, perParticipant int) func(http.Handler) http.Handler {
	var byIP, byParticipant *httprate.RateLimiter
	if perIP > 0 {
		byIP = httprate.NewRateLimiter(perIP, rateLimitWindow, httprate.WithLimitHandler(tooManyRequests))
	}
	if perParticipant > 0 {
		byParticipant = httprate.NewRateLimiter(perParticipant, rateLimitWindow, httprate.WithLimitHandler(tooManyRequests))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if byIP != nil && byIP.RespondOnLimit(w, r, "ip:"+clientIP(r)) {
				return
			}
			if p, ok := GetParticipant(r.Context()); ok && byParticipant != nil {
				if byParticipant.RespondOnLimit(w, r, "participant:"+p.Key()) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
