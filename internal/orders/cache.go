package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/redisx"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache keeps order details (with items) in Redis. Postgres stays the source of truth.
// Entries are versioned by updated_at so a slow reader can never put back an order older than
// the one already written.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: redisx.TTLOrderCache}
}

func (c *Cache) Get(ctx context.Context, orderID string) (Order, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(redisx.KeyOrderDetail, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Order{}, ErrCacheMiss
	}
	if err != nil {
		return Order{}, fmt.Errorf("redis get failed: %w", err)
	}
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return Order{}, fmt.Errorf("unmarshal order failed: %w", err)
	}
	return o, nil
}

// setIfNewer writes the order unless a newer version is recorded. The version key outlives
// Invalidate so late writers of older data stay rejected.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Set stores o unless the cache already saw a newer version of the same order.
func (c *Cache) Set(ctx context.Context, o Order) error {
	o.History = nil
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}
	keys := []string{fmt.Sprintf(redisx.KeyOrderDetail, o.ID), fmt.Sprintf(redisx.KeyOrderVersion, o.ID)}
	if err := setIfNewer.Run(ctx, c.client, keys, data, version(o), c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func version(o Order) int64 {
	if o.UpdatedAt.IsZero() {
		return 0
	}
	return o.UpdatedAt.UnixMicro()
}

func (c *Cache) Invalidate(ctx context.Context, orderID string) error {
	if err := c.client.Del(ctx, fmt.Sprintf(redisx.KeyOrderDetail, orderID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
