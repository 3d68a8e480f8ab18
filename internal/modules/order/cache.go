// README: Redis-backed status cache and checkout idempotency keys.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quickcart/internal/types"
)

const (
	statusKeyPattern      = "order_status:%s"
	idempotencyKeyPattern = "idem:order_create:%s"
	// Checkout retries from the app happen within minutes; a day is plenty.
	idempotencyTTL = 24 * time.Hour
)

// StatusSnapshot is the cached, lightweight view of an order's status.
type StatusSnapshot struct {
	OrderID       types.ID  `json:"orderId"`
	Status        Status    `json:"status"`
	StatusVersion int       `json:"statusVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// putIfNewer never lets an older statusVersion overwrite a newer cached one.
var putIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and type(decoded) == 'table' and tonumber(decoded.statusVersion) ~= nil
		and tonumber(decoded.statusVersion) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

var (
	_ StatusCache      = (*RedisCache)(nil)
	_ IdempotencyStore = (*RedisCache)(nil)
)

func (c *RedisCache) PutStatus(ctx context.Context, s StatusSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return putIfNewer.Run(ctx, c.redis, []string{statusKey(s.OrderID)},
		string(b), s.StatusVersion, c.ttl.Milliseconds()).Err()
}

func (c *RedisCache) GetStatus(ctx context.Context, id types.ID) (StatusSnapshot, bool, error) {
	val, err := c.redis.Get(ctx, statusKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusSnapshot{}, false, nil
	}
	if err != nil {
		return StatusSnapshot{}, false, err
	}
	var s StatusSnapshot
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return StatusSnapshot{}, false, fmt.Errorf("decode cached status for %s: %w", id, err)
	}
	return s, true, nil
}

// Claim binds key to id unless the key is already bound, in which case the bound id is returned.
func (c *RedisCache) Claim(ctx context.Context, key string, id types.ID) (types.ID, bool, error) {
	k := idempotencyKey(key)
	ok, err := c.redis.SetNX(ctx, k, string(id), idempotencyTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, true, nil
	}
	existing, err := c.redis.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET.
		return "", false, fmt.Errorf("idempotency key %q expired while claiming", key)
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(existing), false, nil
}

func (c *RedisCache) Release(ctx context.Context, key string) error {
	return c.redis.Del(ctx, idempotencyKey(key)).Err()
}

func statusKey(id types.ID) string {
	return fmt.Sprintf(statusKeyPattern, string(id))
}

func idempotencyKey(key string) string {
	return fmt.Sprintf(idempotencyKeyPattern, key)
}
