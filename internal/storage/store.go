package storage

import (
	"context"

	"github.com/gymhub/chat/internal/model"
)

// PresenceStore — зеркало онлайн-статусов участников для HTTP-запросов.
// Источник истины — ws.Hub; стор лишь отражает его переходы.
// Реализации: redis.Client, memory.Presence (без REDIS_URL).
type PresenceStore interface {
	SetOnline(ctx context.Context, p model.Participant) error
	SetOffline(ctx context.Context, p model.Participant) error
	// Touch продлевает TTL онлайн-ключей (heartbeat).
	Touch(ctx context.Context, ps []model.Participant) error
	Get(ctx context.Context, p model.Participant) (*model.Presence, error)
	// Reset сбрасывает все онлайн-статусы при старте процесса.
	Reset(ctx context.Context) error
	Close() error
}
