package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

type CachedStatus struct {
	Status    orders.Status `json:"status"`
	Version   int64         `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the last committed status per order for fast reads.
type StatusCache struct {
	Redis *redis.Client
}

var _ orders.StatusCache = (*StatusCache)(nil)

// Tulis hanya jika versi baru >= versi di cache; ARGV: version, status, updated_at, ttl(ms).
var putStatusScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '-1')
if tonumber(ARGV[1]) < cur then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'status', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// PutStatus caches status unless the cache already holds a newer version of the order.
func (c *StatusCache) PutStatus(ctx context.Context, orderID string, status orders.Status, version int64, updatedAt time.Time) error {
	return putStatusScript.Run(ctx, c.Redis, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		version, string(status), updatedAt.UTC().Format(time.RFC3339Nano), TTLStatusCache.Milliseconds()).Err()
}

// GetStatus returns ok=false on a cache miss.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	m, err := c.Redis.HGetAll(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil {
		return CachedStatus{}, false, err
	}
	if len(m) == 0 {
		return CachedStatus{}, false, nil
	}
	version, err := strconv.ParseInt(m["version"], 10, 64)
	if err != nil {
		return CachedStatus{}, false, fmt.Errorf("cached version: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err != nil {
		return CachedStatus{}, false, fmt.Errorf("cached updated_at: %w", err)
	}
	return CachedStatus{Status: orders.Status(m["status"]), Version: version, UpdatedAt: updatedAt}, true, nil
}

func (c *StatusCache) Evict(ctx context.Context, orderID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// LookupIdempotent returns the order id remembered for an idempotency key.
func LookupIdempotent(ctx context.Context, rdb *redis.Client, accountID, key string) (string, bool, error) {
	id, err := rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, accountID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func RememberIdempotent(ctx context.Context, rdb *redis.Client, accountID, key, orderID string) error {
	return rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, accountID, key), orderID, TTLIdempotency).Err()
}
