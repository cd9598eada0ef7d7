//go:build js && wasm

package credentials

import (
	"context"
	"fmt"
	"strconv"

	"github.com/syumai/workers/cloudflare/kv"
)

// CloudflareKVStore implements Store using Cloudflare KV storage
type CloudflareKVStore struct {
	kvStore *kv.Namespace
	prefix  string
}

// NewCloudflareKVStore opens the KV namespace bound as binding in wrangler.toml.
func NewCloudflareKVStore(binding, prefix string) (*CloudflareKVStore, error) {
	kvStore, err := kv.NewNamespace(binding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &CloudflareKVStore{kvStore: kvStore, prefix: prefix}, nil
}

func (c *CloudflareKVStore) key(k string) string { return c.prefix + k }

// KV has no distinct "missing" result for GetString, so an empty value reads as absent.
func (c *CloudflareKVStore) GetString(_ context.Context, key string) (string, bool, error) {
	v, err := c.kvStore.GetString(c.key(key), nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from KV: %w", key, err)
	}
	return v, v != "", nil
}

func (c *CloudflareKVStore) SetString(_ context.Context, key, value string) error {
	if err := c.kvStore.PutString(c.key(key), value, nil); err != nil {
		return fmt.Errorf("failed to store %s in KV: %w", key, err)
	}
	return nil
}

func (c *CloudflareKVStore) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	v, ok, err := c.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, ErrNotNumeric)
	}
	return n, true, nil
}

func (c *CloudflareKVStore) SetInt64(ctx context.Context, key string, value int64) error {
	return c.SetString(ctx, key, strconv.FormatInt(value, 10))
}

func (c *CloudflareKVStore) Remove(_ context.Context, keys ...string) error {
	for _, k := range keys {
		if err := c.kvStore.Delete(c.key(k)); err != nil {
			return fmt.Errorf("failed to delete %s from KV: %w", k, err)
		}
	}
	return nil
}

// Name returns the provider name
func (c *CloudflareKVStore) Name() string {
	return "CloudflareKVStore"
}
