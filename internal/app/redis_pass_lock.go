package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releasePassLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock keeps two retry passes from running at the same time.
type PassLock interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// RedisPassLock implements PassLock with SET NX PX and a compare-and-delete release.
type RedisPassLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisPassLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisPassLock {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		trimmedKey = "prizes:retry_pass:lock"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisPassLock{client: client, key: trimmedKey, ttl: ttl}
}

func (l *RedisPassLock) Acquire(ctx context.Context) (func(), bool, error) {
	if l == nil || l.client == nil {
		return func() {}, true, nil
	}

	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The pass context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releasePassLockScript.Run(releaseCtx, l.client, []string{l.key}, owner).Err()
	}
	return release, true, nil
}
