package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's token,
// so an expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// AcquirePaymentLock takes the per-reservation lock held around processor calls.
// The returned token must be passed to ReleasePaymentLock.
func (c *RedisCache) AcquirePaymentLock(ctx context.Context, reservationID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, paymentLockKey(reservationID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (c *RedisCache) ReleasePaymentLock(ctx context.Context, reservationID, token string) error {
	return releaseScript.Run(ctx, c.client, []string{paymentLockKey(reservationID)}, token).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func paymentLockKey(reservationID string) string {
	return fmt.Sprintf("lock:reservation:%s", reservationID)
}
