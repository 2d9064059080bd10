package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix    = "stock:component:"
	idempotencyKeyTTL = 24 * time.Hour
)

// setStockScript writes the mirror only when the incoming version is newer
// than the stored one, so late post-commit writes cannot roll a value back.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local stock = ARGV[1]
local version = tonumber(ARGV[2])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'stock', stock, 'version', version)
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func stockKey(componentID int64) string {
	return stockKeyPrefix + strconv.FormatInt(componentID, 10)
}

func (r *RedisAdapter) SetStock(ctx context.Context, componentID int64, stock int, version int64) (bool, error) {
	result, err := setStockScript.Run(ctx, r.client, []string{stockKey(componentID)}, stock, version).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// GetStock returns the mirrored stock. ok is false when nothing is mirrored.
func (r *RedisAdapter) GetStock(ctx context.Context, componentID int64) (stock int, ok bool, err error) {
	stock, err = r.client.HGet(ctx, stockKey(componentID), "stock").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
