package startup

import (
	"context"
	"time"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/storage"
	"github.com/gymhub/chat/internal/storage/memory"
	redisstorage "github.com/gymhub/chat/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	return mustRetry("redis connect", maxWait, logPrefix, func() (*redisstorage.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisstorage.New(ctx, redisURL)
	})
}

// PresenceStore выбирает хранилище онлайн-статусов: Redis при заданном URL, иначе память процесса.
func PresenceStore(redisURL string, maxWait time.Duration, logPrefix string) storage.PresenceStore {
	if redisURL == "" {
		logger.Infof("%spresence: REDIS_URL не задан, статусы хранятся в памяти", logPrefix)
		return memory.NewPresence()
	}
	return ConnectRedisWithRetry(redisURL, maxWait, logPrefix)
}
