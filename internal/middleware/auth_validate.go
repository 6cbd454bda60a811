package middleware

import (
	"net/http"

	"github.com/gymhub/chat/internal/auth"
	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
)

// ParticipantAuth проверяет токен из cookie роли (или Bearer) и кладёт участника в контекст.
// Без валидного токена запрос завершается 401 до вызова next — в том числе до WebSocket upgrade.
func ParticipantAuth(role model.ParticipantRole, verifier auth.Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r, cookieName)
			if token == "" {
				writeUnauthorized(w)
				return
			}
			p, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debugf("auth rejected role=%s token=%s: %v", role, MaskToken(token), err)
				writeUnauthorized(w)
				return
			}
			if p.Role != role {
				logger.Debugf("auth rejected role=%s token=%s: role %s", role, MaskToken(token), p.Role)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), p)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication required","code":"authentication"}`))
}
