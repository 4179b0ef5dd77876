package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roombook/internal/config"
	"roombook/internal/domain"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisBackend stores entries as JSON. Redis expires keys after retention,
// which must be longer than any TTL so stale reads still find them.
type RedisBackend struct {
	client    *redis.Client
	retention time.Duration
	scanCount int64
}

func NewRedisBackend(client *redis.Client, retention time.Duration) *RedisBackend {
	return &RedisBackend{
		client:    client,
		retention: retention,
		scanCount: 100,
	}
}

func (r *RedisBackend) Load(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	if r.client == nil {
		return domain.CacheEntry{}, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisBackend) Store(ctx context.Context, entry domain.CacheEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, entry.Key, data, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry from redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := r.scan(ctx, prefix+"*")
	if err != nil {
		return 0, err
	}
	var matched []string
	for _, k := range keys {
		if matchesPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, matched...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries from redis: %w", err)
	}
	return int(n), nil
}

func (r *RedisBackend) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := r.scan(ctx, keyPrefix+"*")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		entry, ok, err := r.Load(ctx, k)
		if err != nil || !ok || !entry.StoredAt.Before(cutoff) {
			continue
		}
		if err := r.client.Del(ctx, k).Err(); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	keys, err := r.scan(ctx, keyPrefix+"*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *RedisBackend) scan(ctx context.Context, match string) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	var keys []string
	iter := r.client.Scan(ctx, 0, match, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	return keys, nil
}

// Ping checks that Redis answers.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close is nil-safe.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
