// Package cache is the gateway's live/operational store: a thin Redis
// wrapper for cross-restart state (rate-limit cooldowns, session bindings,
// cached access tokens, the round-robin cursor, thought signatures) plus an
// in-process ristretto layer fronting the parts of that state that sit on
// the hot request path.
//
// Redis here is a disposable mirror, not the source of truth — SQLite
// (internal/store) is authoritative and survives a Redis loss; Redis exists
// so a restarted process doesn't cold-start every cooldown and binding.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes, namespaced so the gateway can share a Redis instance/DB with
// other tenants without key collisions.
const (
	prefixSignatureTool     = "llmgw:sig:tool:"
	prefixSignatureThinking = "llmgw:sig:thinking:"
	prefixCooldown          = "llmgw:cooldown:"
	prefixSession           = "llmgw:session:"
	prefixTokenCache        = "llmgw:token:"
	keyRoundRobinCursor     = "llmgw:cursor"
)

// Config is the Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a go-redis client with the gateway's domain operations.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and verifies connectivity.
func New(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping checks Redis reachability, used by the admin health endpoint.
func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Raw exposes the underlying client for operations this wrapper doesn't
// cover (pipelines, scans) without widening the domain surface above.
func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// IsNil reports whether err is the Redis "key not found" sentinel.
func IsNil(err error) bool { return err == redis.Nil }
