package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"wohnung-hunter/internal/models"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func resultsKey(key string) string {
	return fmt.Sprintf("results:%s", key)
}

func rateLimitKey(key string) string {
	return fmt.Sprintf("rate_limit:%s", key)
}

// CacheSearchResults stores flats found for a search key until the TTL expires.
func (r *RedisCache) CacheSearchResults(ctx context.Context, key string, results []models.Flat) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, resultsKey(key), data, r.ttl).Err()
}

func (r *RedisCache) GetCachedResults(ctx context.Context, key string) ([]models.Flat, bool) {
	data, err := r.client.Get(ctx, resultsKey(key)).Bytes()
	if err != nil {
		return nil, false
	}

	var results []models.Flat
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

// InvalidateSearchResults drops every cached search, used after a run
// changed stored apartments.
func (r *RedisCache) InvalidateSearchResults(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, resultsKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Allow reports whether the action named key may run now, permitting it once
// per window.
func (r *RedisCache) Allow(ctx context.Context, key string, window time.Duration) bool {
	k := rateLimitKey(key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false
	}
	if count == 1 {
		r.client.Expire(ctx, k, window)
	}
	return count == 1
}
