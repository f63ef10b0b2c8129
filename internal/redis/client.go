// Package redis backs the in-flight delivery lease and the per-recipient
// reminder throttle.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every key the reminder service writes.
const DefaultKeyPrefix = "reminder"

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// KeyPrefix is prepended to lease and throttle keys. Several
	// deployments sharing one Redis need distinct prefixes.
	KeyPrefix string
}

// Client is the shared connection behind LeaseService and Throttle.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects and pings Redis. The caller decides whether a failure
// disables the lease and throttle or aborts startup.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	// Lease and throttle calls sit on the dispatch path, so timeouts stay short.
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "nimbus-remind",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  2 * time.Second,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("redis connected for reminder lease and throttle",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// key joins parts under the client's prefix, e.g. reminder:lease:q:m1.
func (c *Client) key(parts ...string) string {
	prefix := c.prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
