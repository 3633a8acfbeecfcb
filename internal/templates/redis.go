package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperengineering/inspecta/internal/types"
)

const defaultRedisPrefix = "inspecta:template:"

// RedisCache shares fetched templates between agents on the same shop
// network. Entries expire after ttl (zero keeps them indefinitely).
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: defaultRedisPrefix, ttl: ttl}
}

func (c *RedisCache) key(id int64) string {
	return c.prefix + strconv.FormatInt(id, 10)
}

func (c *RedisCache) serviceKey(serviceID int64) string {
	return c.prefix + "service:" + strconv.FormatInt(serviceID, 10)
}

func (c *RedisCache) Get(ctx context.Context, id int64) (*types.Template, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}

	var tmpl types.Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("unmarshal template %d: %w", id, err)
	}
	return &tmpl, nil
}

func (c *RedisCache) GetByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	id, err := c.client.Get(ctx, c.serviceKey(serviceID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get template for service %d: %w", serviceID, err)
	}
	return c.Get(ctx, id)
}

func (c *RedisCache) Put(ctx context.Context, tmpl *types.Template) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(tmpl.ID), data, c.ttl)
	if tmpl.ServiceID > 0 {
		pipe.Set(ctx, c.serviceKey(tmpl.ServiceID), tmpl.ID, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache template %d: %w", tmpl.ID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
