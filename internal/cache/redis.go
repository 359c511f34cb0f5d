package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "refkeeper:cache:"

// invalidateScript drops every key listed in the identity index together
// with the index itself.
var invalidateScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, k in ipairs(members) do
  redis.call('DEL', k)
end
redis.call('DEL', KEYS[1])
return #members
`)

// setScript writes one entry and indexes it. The index TTL only grows, so a
// short-lived entry never expires the index ahead of longer ones.
var setScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
local ttl = tonumber(ARGV[2])
if redis.call('PTTL', KEYS[2]) < ttl then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// RedisStore shares cache entries across instances. Each entry is a plain
// key with TTL; a per-identity set indexes the entry keys for InvalidateAll.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: defaultPrefix}
}

// DialRedis parses a redis:// URL and verifies connectivity.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (r *RedisStore) entryKey(identity, path string) string {
	return r.prefix + "e:" + identity + ":" + path
}

func (r *RedisStore) indexKey(identity string) string {
	return r.prefix + "i:" + identity
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, identity, path string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.entryKey(identity, path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

// Set implements Store. The index lives as long as the longest-lived entry.
func (r *RedisStore) Set(ctx context.Context, identity, path string, value []byte, ttl time.Duration) error {
	if ttl < time.Millisecond {
		ttl = DefaultTTL
	}
	keys := []string{r.entryKey(identity, path), r.indexKey(identity)}
	if err := setScript.Run(ctx, r.rdb, keys, value, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// InvalidateAll implements Store.
func (r *RedisStore) InvalidateAll(ctx context.Context, identity string) error {
	if err := invalidateScript.Run(ctx, r.rdb, []string{r.indexKey(identity)}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
