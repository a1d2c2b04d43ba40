package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotAcquired lock is held by someone else and retries are exhausted
var ErrNotAcquired = errors.New("lock not acquired")

// Locker выдаёт взаимоисключающую блокировку по ключу. Token identifies the owner,
// so a holder whose lock expired cannot release a lock taken over by someone else.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Options параметры ожидания блокировки
type Options struct {
	TTL      time.Duration
	Attempts uint64
	Delay    time.Duration
}

// Acquire ждёт блокировку, повторяя попытки с backoff. Возвращает функцию освобождения.
func Acquire(ctx context.Context, l Locker, key string, opts Options) (func(), error) {
	const op = "lock.Acquire"

	if opts.Delay <= 0 {
		opts.Delay = 20 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(opts.Attempts, retry.WithJitter(opts.Delay/2, retry.NewConstant(opts.Delay)))

	var token string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, ok, err := l.TryLock(ctx, key, opts.TTL)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(ErrNotAcquired)
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, key, err)
	}

	release := func() {
		// освобождаем даже если контекст запроса уже отменён
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Unlock(ctx, key, token)
	}
	return release, nil
}
