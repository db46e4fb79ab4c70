package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"nexstream/internal/core"
)

const scanBatch = 500

// RedisBackend stores brain records as JSON values in Redis. Records never expire.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client. Keys are namespaced with prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Get(ctx context.Context, sourceURL string) (*core.CacheRecord, error) {
	data, err := r.client.Get(ctx, r.prefix+sourceURL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var record core.CacheRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode brain record: %w", err)
	}
	return &record, nil
}

func (r *RedisBackend) Put(ctx context.Context, record *core.CacheRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode brain record: %w", err)
	}
	return r.client.Set(ctx, r.prefix+record.SourceURL, data, 0).Err()
}

func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range batch {
			keys = append(keys, strings.TrimPrefix(key, r.prefix))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Shared is true: several nexstream instances may point at one Redis.
func (r *RedisBackend) Shared() bool { return true }

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
