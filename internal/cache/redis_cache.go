package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	redis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"bizzai/backend/internal/domain"
)

type RedisItemCache struct {
	client redis.UniversalClient
}

func NewRedisItemCache(addr string, password string, db int) *RedisItemCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisItemCacheWithClient(client)
}

func NewRedisItemCacheWithClient(client redis.UniversalClient) *RedisItemCache {
	return &RedisItemCache{client: client}
}

func (c *RedisItemCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisItemCache) Close() error {
	return c.client.Close()
}

func (c *RedisItemCache) Get(ctx context.Context, sku string) (*domain.Item, bool, error) {
	val, err := c.client.Get(ctx, itemKey(sku)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.Item
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisItemCache) Set(ctx context.Context, item *domain.Item, ttl time.Duration) error {
	if item == nil {
		return nil
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, itemKey(item.SKU), payload, ttl).Err()
}

func (c *RedisItemCache) Invalidate(ctx context.Context, skus ...string) error {
	if len(skus) == 0 {
		return nil
	}
	return c.client.Del(ctx, lo.Map(skus, func(sku string, _ int) string { return itemKey(sku) })...).Err()
}
