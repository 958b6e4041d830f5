/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/churnguard/config"
	redis_db "github.com/blnkfinance/churnguard/internal/redis-db"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key is missing")

// Cache stores assessments, tracking records and analytics snapshots.
type Cache interface {
	// Set stores value under key for ttl. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value stored under key into data, which must be a pointer.
	// It returns ErrCacheMiss when nothing is stored.
	Get(ctx context.Context, key string, data interface{}) error

	Delete(ctx context.Context, key string) error
}

// RedisCache is a Redis backed cache fronted by an in-process TinyLFU layer.
type RedisCache struct {
	cache *cache.Cache
}

const (
	cacheSize     = 128000
	localCacheTTL = time.Minute
)

// NewCache builds a RedisCache from the loaded configuration.
func NewCache() (*RedisCache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	client, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(client.Client()), nil
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(cacheSize, localCacheTTL),
	})}
}

// NewLocalCache returns a process-local cache with no Redis behind it.
// Entries expire after ttl regardless of the ttl passed to Set.
func NewLocalCache(size int, ttl time.Duration) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{
		LocalCache: cache.NewTinyLFU(size, ttl),
	})}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return ErrCacheMiss
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
