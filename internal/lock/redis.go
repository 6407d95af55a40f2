package lock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrNotHeld возвращается при снятии блокировки, которая уже истекла или перехвачена.
var ErrNotHeld = errors.New("lock: not held")

// Release снимает полученную блокировку.
type Release func(ctx context.Context) error

// Locker: распределённая блокировка для задач, которые должна выполнять одна реплика.
type Locker interface {
	// TryAcquire не ждёт: ok=false означает, что блокировку держит другой владелец.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error)
}

// RedisLocker реализует Locker через SET NX с токеном владельца.
type RedisLocker struct {
	client  redis.Cmdable
	prefix  string
	release *redis.Script
}

// NewRedisLocker создаёт блокировку поверх клиента go-redis.
func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{
		client:  client,
		prefix:  "lock:",
		release: redis.NewScript(releaseLockScript),
	}
}

// Dial подключается к Redis и проверяет соединение.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// TryAcquire пытается занять ключ на ttl.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		n, err := l.release.Run(ctx, l.client, []string{fullKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

var _ Locker = (*RedisLocker)(nil)
