// Package redis backs the shared state of a marketguard deployment: the
// md:events input channel and stream, the published assessment channel and
// stream, the last-known assessment per symbol, and the archive job lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig mirrors the [redis] config section.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client is the single connection pool shared by the feed, the assessment
// sink and the archive lock.
type Client struct {
	rdb *redis.Client
}

// New connects and pings Redis so serve mode fails at startup rather than on
// the first assessment.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping backs the redis entry of /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the pool. Subscriptions opened through it end.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the pool to the bus, cache and lock adapters.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
