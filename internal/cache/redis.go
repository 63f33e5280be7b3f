package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// putIfNewer writes the payload only when ARGV[1] is above the stored version.
var putIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'v')
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type RedisCache[T Versioned] struct {
	client  redis.UniversalClient
	prefix  string
	baseTTL time.Duration
}

func NewRedisCache[T Versioned](client redis.UniversalClient, prefix string, baseTTL time.Duration) *RedisCache[T] {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache[T]{
		client:  client,
		prefix:  prefix,
		baseTTL: baseTTL,
	}
}

func (r *RedisCache[T]) Get(ctx context.Context, id string) (T, error) {
	var value T

	data, err := r.client.HGet(ctx, r.key(id), "d").Bytes()
	if errors.Is(err, redis.Nil) {
		return value, ErrCacheMiss
	}
	if err != nil {
		return value, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("unmarshal %s failed: %w", r.prefix, err)
	}
	return value, nil
}

func (r *RedisCache[T]) Put(ctx context.Context, id string, value T) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal %s failed: %w", r.prefix, err)
	}

	written, err := putIfNewer.Run(ctx, r.client,
		[]string{r.key(id)},
		strconv.FormatInt(value.GetVersion(), 10),
		string(payload),
		r.ttl().Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis put failed: %w", err)
	}
	return written == 1, nil
}

func (r *RedisCache[T]) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// ttl spreads expiry over up to five extra minutes.
func (r *RedisCache[T]) ttl() time.Duration {
	return r.baseTTL + time.Duration(rand.Intn(5))*time.Minute
}

func (r *RedisCache[T]) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}
