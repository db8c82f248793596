// Package redis implements the result cache tier on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// DefaultTTL is how long a cached record lives (seven days).
const DefaultTTL = 604800 * time.Second

const (
	resultPrefix = "result:"
	statePrefix  = "state:"
)

// Config describes the Redis deployment.
type Config struct {
	// Addrs is either a single address or a seed list of host:port addresses.
	Addrs       []string      `mapstructure:"addrs"`
	DB          int           `mapstructure:"db"`
	Password    string        `mapstructure:"password"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MasterName  string        `mapstructure:"master_name"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// AsUniversalOptions maps the config onto go-redis client options.
func (c Config) AsUniversalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:       c.Addrs,
		DB:          c.DB,
		Password:    c.Password,
		PoolSize:    c.PoolSize,
		DialTimeout: c.DialTimeout,
		ReadTimeout: c.ReadTimeout,
		MasterName:  c.MasterName,
	}
}

// Cache stores JSON-encoded records under result:<hall ticket>.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps an existing client. A non-positive ttl selects DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", results.ErrConfiguration)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Connect builds a client from cfg and verifies it answers PING.
func Connect(ctx context.Context, cfg Config) (*Cache, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("%w: redis addrs are required", results.ErrConfiguration)
	}
	client := redis.NewUniversalClient(cfg.AsUniversalOptions())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, cfg.TTL)
}

// Get returns the cached record. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, identifier string) (results.ResultRecord, bool, error) {
	raw, err := c.client.Get(ctx, resultPrefix+identifier).Bytes()
	if errors.Is(err, redis.Nil) {
		return results.ResultRecord{}, false, nil
	}
	if err != nil {
		return results.ResultRecord{}, false, fmt.Errorf("redis get %s: %w", identifier, err)
	}
	var rec results.ResultRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return results.ResultRecord{}, false, fmt.Errorf("decode cached %s: %w", identifier, err)
	}
	return rec, true, nil
}

// Set writes the record with the configured TTL.
func (c *Cache) Set(ctx context.Context, record results.ResultRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", record.Identifier, err)
	}
	if err := c.client.Set(ctx, resultPrefix+record.Identifier, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", record.Identifier, err)
	}
	return nil
}

// GetState reads a small piece of coordinator state, such as the last portal announcement.
func (c *Cache) GetState(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, statePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get state %s: %w", key, err)
	}
	return val, true, nil
}

// SetState stores coordinator state without expiry.
func (c *Cache) SetState(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, statePrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
