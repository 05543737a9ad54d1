package redisstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateRepository(client, "test:"), mr
}

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	key := "question-create:7"

	for i := 0; i < 3; i++ {
		exceeded, err := repo.CheckRateLimit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded, "call %d should be allowed", i+1)
	}

	exceeded, err := repo.CheckRateLimit(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded, "4th call should exceed the limit")

	// 窗口从第一次调用开始计算
	assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:"+key))

	mr.FastForward(time.Minute + time.Second)

	exceeded, err = repo.CheckRateLimit(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, exceeded, "new window should reset the counter")
}

func TestCheckRateLimit_WindowNotExtended(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CheckRateLimit(ctx, "upvote:1", 10, time.Minute)
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)
	_, err = repo.CheckRateLimit(ctx, "upvote:1", 10, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, mr.TTL("test:ratelimit:upvote:1"))
}

func TestCheckRateLimit_RepairsMissingTTL(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:ratelimit:resolve:1", "2"))

	exceeded, err := repo.CheckRateLimit(ctx, "resolve:1", 20, time.Minute)
	require.NoError(t, err)
	assert.False(t, exceeded)
	assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:resolve:1"))
}

func TestCheckRateLimit_StoreUnavailable(t *testing.T) {
	repo, mr := newTestRepo(t)
	mr.Close()

	_, err := repo.CheckRateLimit(context.Background(), "upvote:1", 10, time.Minute)
	assert.Error(t, err)
}
