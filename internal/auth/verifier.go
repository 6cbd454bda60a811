// Package auth проверяет токены доступа участников чата.
// Выпуск токенов — забота внешнего сервиса авторизации; здесь только проверка.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gymhub/chat/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer credential to a participant of one role.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.Participant, error)
}

// Verifiers holds one verifier per channel-space.
type Verifiers map[model.ParticipantRole]Verifier

func (v Verifiers) For(role model.ParticipantRole) (Verifier, bool) {
	ver, ok := v[role]
	return ver, ok && ver != nil
}

// TokenFromRequest reads the role cookie. An "Authorization: Bearer" header is
// accepted as a fallback for non-browser clients.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}
