package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps redis.Client for deployments that want cached responses to
// survive restarts. It is selected by configuration; the MemoryCache is the
// default backend.
type Client struct {
	*redis.Client
	logger    *slog.Logger
	keyPrefix string
}

// Connect creates a new Redis connection from a redis:// URL.
func Connect(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{
		Client: client,
		logger: slog.Default(),
	}, nil
}

// WithLogger sets the logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithKeyPrefix sets a prefix for all keys.
func (c *Client) WithKeyPrefix(prefix string) *Client {
	c.keyPrefix = prefix
	return c
}

func (c *Client) prefixedKey(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

// Get retrieves a value. A missing key returns the empty string with no
// error.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	result, err := c.Client.Get(ctx, c.prefixedKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return result, err
}

// Set stores a value with an expiration. Non-string values are JSON
// encoded. A non-positive expiration means the key never expires.
func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(bytes)
	}

	if expiration < 0 {
		expiration = 0
	}
	return c.Client.Set(ctx, c.prefixedKey(key), data, expiration).Err()
}

// GetJSON retrieves a JSON value and unmarshals it into dest, reporting
// whether the key was present.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Delete removes keys, reporting how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.prefixedKey(k)
	}
	return c.Client.Del(ctx, prefixedKeys...).Result()
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Client.Exists(ctx, c.prefixedKey(key)).Result()
	return n > 0, err
}

// TTL returns the remaining time to live for a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.Client.TTL(ctx, c.prefixedKey(key)).Result()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
