package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	lockPrefix = "action_session_lock:"

	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 25 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// releaseScript deletes the lock only while it still holds the caller's token,
// so an expired holder cannot free a lock taken over by another process.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KeyLock is a per-key mutual exclusion lock shared by every process using
// the same Redis. It serializes session turns across relay instances.
type KeyLock struct {
	client *goredis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewKeyLock creates a lock. ttl bounds how long a crashed holder can block a
// key and must exceed the longest turn. ttl <= 0 uses 30s.
func NewKeyLock(client *goredis.Client, ttl time.Duration) *KeyLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &KeyLock{client: client, ttl: ttl, retry: defaultLockRetry}
}

// Lock blocks until key is acquired or ctx is done. The returned func
// releases it and is safe to call more than once.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	name := lockPrefix + key
	token := uuid.NewString()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		timer.Reset(l.retry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// A cancelled turn must still free the key.
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{name}, token).Err()
		})
	}, nil
}
