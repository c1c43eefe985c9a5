package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotAcquired is returned when the lock is still held elsewhere after
// the context expires.
var ErrNotAcquired = errors.New("lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance using the same Redis.
// Each lock carries a TTL so a crashed holder cannot wedge a loan forever.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    logrus.FieldLogger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "loan-ledger:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}, nil
}
