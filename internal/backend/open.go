package backend

import (
	"context"
	"fmt"
)

// Open creates a backend by kind: "memory" (default), "redis", or "bolt".
func Open(ctx context.Context, kind string, redisCfg RedisConfig, boltPath string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "redis":
		return NewRedisBackend(ctx, redisCfg)
	case "bolt":
		return NewBoltBackend(boltPath)
	default:
		return nil, fmt.Errorf("unknown backend kind %q (want memory, redis, or bolt)", kind)
	}
}
