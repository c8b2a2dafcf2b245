// Package cache provides the byte caches used in front of the data plane.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/redis/go-redis/v9"
)

// Store is a batch-oriented byte cache. GetMany returns only the keys that
// were found.
type Store interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Close() error
}

// Memory is an in-process Store backed by theine.
type Memory struct {
	cache *theine.Cache[string, []byte]
}

var _ Store = (*Memory)(nil)

// NewMemory creates an in-process cache holding up to maxEntries values.
func NewMemory(maxEntries int64) (*Memory, error) {
	c, err := theine.NewBuilder[string, []byte](maxEntries).Build()
	if err != nil {
		return nil, fmt.Errorf("build memory cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

func (m *Memory) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.cache.Get(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, entries map[string][]byte, ttl time.Duration) error {
	for k, v := range entries {
		m.cache.SetWithTTL(k, v, 1, ttl)
	}
	return nil
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}

// Redis is a Store shared between appview instances.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the Redis server at url. Keys are namespaced with
// prefix.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromOptions(ctx, opts, prefix)
}

// NewRedisFromOptions connects using explicit options.
func NewRedisFromOptions(ctx context.Context, opts *redis.Options, prefix string) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.prefix+k, v, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
