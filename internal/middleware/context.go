package middleware

import (
	"context"

	"github.com/gymhub/chat/internal/model"
)

type contextKey string

const ParticipantKey contextKey = "participant"

func WithParticipant(ctx context.Context, p model.Participant) context.Context {
	return context.WithValue(ctx, ParticipantKey, p)
}

// GetParticipant возвращает участника из контекста (устанавливается ParticipantAuth).
func GetParticipant(ctx context.Context) (model.Participant, bool) {
	p, ok := ctx.Value(ParticipantKey).(model.Participant)
	return p, ok && p.Valid()
}
