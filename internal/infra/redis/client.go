// Package redis provides the remote cache tier and cross-instance cache
// invalidation fan-out.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the shared cache tier.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Prefix namespaces every key this instance writes.
	Prefix string `yaml:"prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "profilesync"
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) cacheKey(key string) string {
	return c.prefix + ":cache:" + key
}

func (c *Client) invalidationChannel() string {
	return c.prefix + ":invalidate"
}

// Get returns the stored payload for a cache key, reporting whether it exists.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.rdb.Get(ctx, c.cacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return payload, true, nil
}

// Set stores a payload under a cache key with a TTL.
func (c *Client) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.cacheKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Del removes cache keys and broadcasts the removal so other instances drop
// their local copies.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.cacheKey(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return c.PublishInvalidation(ctx, keys...)
}

// PublishInvalidation tells other instances to drop a set of keys.
func (c *Client) PublishInvalidation(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.rdb.Publish(ctx, c.invalidationChannel(), key).Err(); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
	}
	return nil
}

// SubscribeInvalidations delivers invalidated keys published by other
// instances to fn until ctx is done.
func (c *Client) SubscribeInvalidations(ctx context.Context, fn func(key string)) error {
	sub := c.rdb.Subscribe(ctx, c.invalidationChannel())
	// Confirm the subscription before returning control to the caller.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
	return nil
}
