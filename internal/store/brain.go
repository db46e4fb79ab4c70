package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nexstream/internal/core"
	"nexstream/pkg/text"
)

const defaultHotRecords = 1024

// Backend is a durable record store.
type Backend interface {
	Get(ctx context.Context, sourceURL string) (*core.CacheRecord, error)
	Put(ctx context.Context, record *core.CacheRecord) error
	Keys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	// Shared reports whether other processes may write to the same store.
	Shared() bool
	Close() error
}

// Brain is the persistent source-URL cache. Keys are source URLs without their query string.
// Lookups for keys the index has never seen skip the backend unless the backend is shared.
type Brain struct {
	backend Backend
	index   *KeyIndex
	logger  *zap.Logger
}

// NewBrain wraps backend with an in-memory key index.
func NewBrain(backend Backend, index *KeyIndex, logger *zap.Logger) *Brain {
	return &Brain{backend: backend, index: index, logger: logger}
}

// Open builds a Brain for the configured backend ("sqlite" or "redis").
func Open(cfg core.StoreConfig, logger *zap.Logger) (*Brain, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Backend {
	case "sqlite", "":
		backend, err = NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		backend = NewRedisBackend(client, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}

	index := NewKeyIndex(cfg.IndexCapacity, defaultHotRecords, cfg.BloomFPRate)
	return NewBrain(backend, index, logger), nil
}

// Warm loads every stored key into the index. Until it succeeds the index only knows keys written
// by this process, so Warm must run before serving.
func (b *Brain) Warm(ctx context.Context) error {
	keys, err := b.backend.Keys(ctx)
	if err != nil {
		return fmt.Errorf("warm brain index: %w", err)
	}
	b.index.Load(keys)
	b.logger.Info("Brain index warmed", zap.Int("records", len(keys)))
	return nil
}

// Get returns the record stored for sourceURL, or nil when there is none.
func (b *Brain) Get(ctx context.Context, sourceURL string) (*core.CacheRecord, error) {
	key := text.CacheKey(sourceURL)

	if record, ok := b.index.Lookup(key); ok {
		return record, nil
	}
	// Other writers never reach this index, so a bloom miss proves nothing on a shared backend.
	if !b.backend.Shared() && !b.index.MayContain(key) {
		return nil, nil
	}

	record, err := b.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil {
		b.index.Remember(record)
	}
	return record, nil
}

// Put stores record, replacing any previous record for the same key.
func (b *Brain) Put(ctx context.Context, record *core.CacheRecord) error {
	if record == nil || record.SourceURL == "" {
		return errors.New("brain record requires a source URL")
	}

	stored := *record
	stored.SourceURL = text.CacheKey(record.SourceURL)
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	if err := b.backend.Put(ctx, &stored); err != nil {
		return err
	}
	b.index.Remember(&stored)

	b.logger.Debug("Brain record saved",
		zap.String("url", stored.SourceURL),
		zap.String("title", stored.Title),
		zap.String("isrc", stored.ISRC))
	return nil
}

// Size returns the number of known records.
func (b *Brain) Size() int {
	return b.index.Size()
}

// Ping checks backend connectivity.
func (b *Brain) Ping(ctx context.Context) error {
	return b.backend.Ping(ctx)
}

// Close releases the backend.
func (b *Brain) Close() error {
	return b.backend.Close()
}
