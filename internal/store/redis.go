package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis/Valkey-backed BlobStore, usable as a shared fast tier
// when several API replicas should see the same cache.
type RedisStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store. ttl of zero stores without expiry.
func NewRedis(addr, password string, db int, prefix string, ttl time.Duration) *RedisStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "ledgersync:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisFromClient creates a RedisStore from an existing client (useful for testing).
func NewRedisFromClient(client *goredis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ledgersync:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity to the Redis server.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error { return r.client.Close() }

// Get returns the document for key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	doc, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return doc, true, nil
}

// Put stores the document under key, applying the store TTL if configured.
func (r *RedisStore) Put(ctx context.Context, key string, doc []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, doc, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}
