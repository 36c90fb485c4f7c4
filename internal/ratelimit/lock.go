package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditmeter/internal/config"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keySubscriptionLock = "creditmeter:reconcile:subscription:%s"

// ErrLockHeld is returned when another holder owns the key past the wait.
var ErrLockHeld = errors.New("lock_held")

// Locker is a Redis SETNX lock shared across replicas. A nil *Locker
// grants every lock immediately.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	retry  time.Duration
}

func NewLocker(client *redis.Client, cfg config.Config) *Locker {
	if client == nil {
		return nil
	}
	ttl := cfg.Redis.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		retry:  50 * time.Millisecond,
	}
}

func (l *Locker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock polls TryLock until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (string, error) {
	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %s", ErrLockHeld, key)
			}
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrLockHeld, key)
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// LockSubscriptionRef serialises reconciliation of one provider
// subscription across replicas. The returned func releases the lock.
func (l *Locker) LockSubscriptionRef(ctx context.Context, ref string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf(keySubscriptionLock, strings.TrimSpace(ref))
	token, err := l.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		// The caller's ctx may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}, nil
}
