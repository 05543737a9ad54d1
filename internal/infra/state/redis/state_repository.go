package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "qa:"
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", r.keyPrefix, key)
}

// CheckRateLimit 固定窗口计数。
// 窗口内第一次 INCR 得到 1 时设置过期时间，之后只递增，窗口不会因为持续请求而被延长。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.rateLimitKey(key)
	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis: incr failed for rate limit on key %s: %w", fullKey, err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: expire failed for rate limit on key %s: %w", fullKey, err)
		}
	} else {
		// 上一次 EXPIRE 丢失时 key 会永久存在，这里补上
		ttl, err := r.client.TTL(ctx, fullKey).Result()
		if err != nil {
			logrus.WithField("key", fullKey).WithError(err).Warn("redis: failed to read rate limit ttl")
		} else if ttl == -1 {
			if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
				logrus.WithField("key", fullKey).WithError(err).Warn("redis: failed to repair rate limit ttl")
			}
		}
	}

	return count > int64(limit), nil
}
