package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// TokenCache keeps the last registration token in Redis so a restarted
// bridge can hand it to the web content before the next refresh.
type TokenCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewTokenCache(client *redis.Client, app string, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{
		client: client,
		key:    "push:token:last:" + app,
		ttl:    ttl,
	}
}

// NewRedisClient parses url and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *TokenCache) Close() error {
	return c.client.Close()
}

// LastToken returns the cached token, or "" if none is stored.
func (c *TokenCache) LastToken(ctx context.Context) (string, error) {
	token, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", c.key, err)
	}
	return token, nil
}

// StoreToken replaces the cached token and refreshes its TTL.
func (c *TokenCache) StoreToken(ctx context.Context, token string) error {
	if err := c.client.SetEX(ctx, c.key, token, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", c.key, err)
	}
	return nil
}
