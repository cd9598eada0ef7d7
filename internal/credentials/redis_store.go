package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, for hosts that run several SDK
// processes against one login.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix selects "frollo:creds:".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "frollo:creds:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// NewRedisStoreFromURL dials Redis from a URL (redis://:pass@host:6379/0) and
// fails fast if it is unreachable.
func NewRedisStoreFromURL(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return NewRedisStore(rdb, prefix), nil
}

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) SetString(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	v, ok, err := r.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, ErrNotNumeric)
	}
	return n, true, nil
}

func (r *RedisStore) SetInt64(ctx context.Context, key string, value int64) error {
	return r.SetString(ctx, key, strconv.FormatInt(value, 10))
}

func (r *RedisStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) Name() string { return "RedisStore(" + r.prefix + ")" }
