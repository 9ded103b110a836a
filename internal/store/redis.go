package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashkan-ph/pulse/configs"
)

// Redis implements Store on top of a Redis server.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(cfg configs.RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return &Redis{
		client: client,
		logger: logger,
	}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}
	if err := r.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	fields := make(map[string][]byte, len(raw))
	for field, value := range raw {
		fields[field] = []byte(value)
	}
	return fields, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByPattern scans for keys matching the glob pattern and removes
// them in one batch.
func (r *Redis) DeleteByPattern(ctx context.Context, pattern string) error {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("redis keys %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del pattern %s: %w", pattern, err)
	}
	r.logger.Debug("Deleted keys by pattern", "pattern", pattern, "count", len(keys))
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
