package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"kycflow/internal/platform/config"
)

const defaultKeyPrefix = "kycflow:"

// Client is the shared go-redis client plus the key namespace every kycflow
// key lives under.
type Client struct {
	*redis.Client
	prefix string
}

// New connects to Redis and pings it. It returns nil, nil when no URL is
// configured; callers then fall back to in-process guards.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Client{Client: client, prefix: prefix}, nil
}

// Namespace returns the prefix for keys of one concern, e.g. "kycflow:idem:".
func (c *Client) Namespace(parts ...string) string {
	if len(parts) == 0 {
		return c.prefix
	}
	return c.prefix + strings.Join(parts, ":") + ":"
}

// Health backs the readiness check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
