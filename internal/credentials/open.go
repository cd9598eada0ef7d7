//go:build !js || !wasm

package credentials

import (
	"context"
	"fmt"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
)

// Open builds the store selected by cfg.Kind.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Kind {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.Path)
	case config.StoreRedis:
		return NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("store %q is not available in this build", cfg.Kind)
	}
}
