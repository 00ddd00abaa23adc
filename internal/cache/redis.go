package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error) {
	key := cacheKey(kind, aggregateID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var agg domain.Aggregate
	if err2 := json.Unmarshal(data, &agg); err2 != nil {
		return nil, fmt.Errorf("unmarshal %s failed: %w", kind, err2)
	}

	return &agg, nil
}

func (r RedisCache) Set(ctx context.Context, agg *domain.Aggregate) error {
	key := cacheKey(agg.Kind, agg.AggregateID)
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", agg.Kind, err)
	}

	// jitter spreads expiry so entries written together do not expire together
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, kind domain.Kind, aggregateID string) error {
	key := cacheKey(kind, aggregateID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(kind domain.Kind, aggregateID string) string {
	return fmt.Sprintf("%s:%s", kind, aggregateID)
}
