// Package cache keeps short-lived payment snapshots for status polling.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
)

// storeSnapshotScript writes KEYS[1] unless KEYS[2], the invalidation fence,
// is still alive.
const storeSnapshotScript = `if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1`

type PaymentCache interface {
	Get(ctx context.Context, id uint64) (*entity.Payment, error)
	Set(ctx context.Context, payment *entity.Payment) error
	Invalidate(ctx context.Context, ids ...uint64) error
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisPaymentCache struct {
	client redisClient
	ttl    time.Duration
}

func NewRedisPaymentCache(client redisClient, ttl time.Duration) *RedisPaymentCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPaymentCache{client: client, ttl: ttl}
}

// Get returns nil on a cache miss.
func (c *RedisPaymentCache) Get(ctx context.Context, id uint64) (*entity.Payment, error) {
	raw, err := c.client.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payment entity.Payment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Set stores a snapshot read from the database. It is a no-op while the
// payment is fenced by a recent invalidation, since the snapshot may predate
// the write that fenced it.
func (c *RedisPaymentCache) Set(ctx context.Context, payment *entity.Payment) error {
	raw, err := json.Marshal(payment)
	if err != nil {
		return err
	}

	keys := []string{snapshotKey(payment.ID), fenceKey(payment.ID)}
	return c.client.Eval(ctx, storeSnapshotScript, keys, raw, c.ttl.Milliseconds()).Err()
}

// Invalidate fences each payment for one TTL before dropping its snapshot.
func (c *RedisPaymentCache) Invalidate(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := c.client.Set(ctx, fenceKey(id), "1", c.ttl).Err(); err != nil {
			return err
		}
		keys = append(keys, snapshotKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

// Both keys of a payment share a hash tag so the script stays on one slot.
func snapshotKey(id uint64) string {
	return "payments:{" + strconv.FormatUint(id, 10) + "}:snapshot"
}

func fenceKey(id uint64) string {
	return "payments:{" + strconv.FormatUint(id, 10) + "}:fence"
}

type NoopPaymentCache struct{}

func (NoopPaymentCache) Get(context.Context, uint64) (*entity.Payment, error) { return nil, nil }
func (NoopPaymentCache) Set(context.Context, *entity.Payment) error { return nil }
func (NoopPaymentCache) Invalidate(context.Context, ...uint64) error { return nil }
