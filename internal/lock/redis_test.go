package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *redis.Client) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })

	log, _ := test.NewNullLogger()
	return NewRedisLocker(client, 5*time.Second, log), client
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	locker, client := newRedisLocker(t)
	key := "loan-" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	exists, err := client.Exists(context.Background(), locker.prefix+key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	unlock, err = locker.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	locker, client := newRedisLocker(t)
	ctx := context.Background()
	key := "loan-" + uuid.NewString()
	redisKey := locker.prefix + key
	t.Cleanup(func() { _ = client.Del(ctx, redisKey).Err() })

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	// Simulate the TTL expiring and another instance taking the lock.
	require.NoError(t, client.Set(ctx, redisKey, "other-holder", time.Minute).Err())
	unlock()

	held, err := client.Get(ctx, redisKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-holder", held)
}
