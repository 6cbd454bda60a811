package startup

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gymhub/chat/internal/logger"
)

const maxBackoff = 30 * time.Second

// initialBackoff — первая пауза между попытками; тесты её уменьшают.
var initialBackoff = 2 * time.Second

// retry повторяет attempt с экспоненциальной паузой (с джиттером, не больше maxBackoff),
// пока не истечёт maxWait. Возвращает последнюю ошибку, если так и не удалось.
func retry[T any](what string, maxWait time.Duration, logPrefix string, attempt func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	return backoff.Retry(context.Background(), attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, next.Round(time.Millisecond), err)
		}),
	)
}

// mustRetry — retry для старта процесса: без хранилища сервис не поднимается.
func mustRetry[T any](what string, maxWait time.Duration, logPrefix string, attempt func() (T, error)) T {
	v, err := retry(what, maxWait, logPrefix, attempt)
	if err != nil {
		logger.Fatalf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
	}
	return v
}
