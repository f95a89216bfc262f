package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend against a Redis server. The client's
// connection pool handles concurrent callers; no additional locking is
// needed here.
type RedisBackend struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NewRedisBackend creates a backend connected to the configured Redis server.
// The connection is verified with a ping.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, wrapRedis("ping", err)
	}
	return &RedisBackend{client: client}, nil
}

// wrapRedis marks a Redis error as ErrUnavailable so callers can detect
// backend outages with errors.Is.
func wrapRedis(op string, err error) error {
	return fmt.Errorf("redis %s: %w", op, errors.Join(ErrUnavailable, err))
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedis("get", err)
	}
	return value, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapRedis("set", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := b.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrapRedis("del", err)
	}
	return int(n), nil
}

func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	// SCAN instead of KEYS so large keyspaces do not block the server.
	for {
		batch, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrapRedis("scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (b *RedisBackend) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.client.SAdd(ctx, key, args...).Err(); err != nil {
		return wrapRedis("sadd", err)
	}
	return nil
}

func (b *RedisBackend) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.client.SRem(ctx, key, args...).Err(); err != nil {
		return wrapRedis("srem", err)
	}
	return nil
}

func (b *RedisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapRedis("smembers", err)
	}
	return members, nil
}

func (b *RedisBackend) SCard(ctx context.Context, key string) (int64, error) {
	n, err := b.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis("scard", err)
	}
	return n, nil
}

func (b *RedisBackend) Incr(ctx context.Context, key string) (int64, error) {
	n, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis("incr", err)
	}
	return n, nil
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapRedis("expire", err)
	}
	return nil
}

type redisPipe struct {
	pipe redis.Pipeliner
}

func (p *redisPipe) Set(key, value string, ttl time.Duration) {
	p.pipe.Set(context.Background(), key, value, ttl)
}

func (p *redisPipe) Delete(keys ...string) {
	if len(keys) > 0 {
		p.pipe.Del(context.Background(), keys...)
	}
}

func (p *redisPipe) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(context.Background(), key, args...)
}

func (p *redisPipe) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SRem(context.Background(), key, args...)
}

func (b *RedisBackend) Pipeline(ctx context.Context, fn func(Pipe) error) error {
	pipe := b.client.Pipeline()
	if err := fn(&redisPipe{pipe: pipe}); err != nil {
		pipe.Discard()
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedis("pipeline", err)
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrapRedis("ping", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
