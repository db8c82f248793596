// Package memory implements the result cache tier in process using go-cache.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JakeFAU/results-harvester/internal/results"
)

const statePrefix = "state:"

// Cache keeps records in a TTL map. Suitable only for single-process deployments.
type Cache struct {
	items *gocache.Cache
	ttl   time.Duration
}

// New constructs a Cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		items: gocache.New(ttl, ttl),
		ttl:   ttl,
	}
}

// Get returns the cached record, if present.
func (c *Cache) Get(_ context.Context, identifier string) (results.ResultRecord, bool, error) {
	v, ok := c.items.Get(identifier)
	if !ok {
		return results.ResultRecord{}, false, nil
	}
	rec, ok := v.(results.ResultRecord)
	return rec, ok, nil
}

// Set stores the record with the default expiry.
func (c *Cache) Set(_ context.Context, record results.ResultRecord) error {
	c.items.Set(record.Identifier, record, gocache.DefaultExpiration)
	return nil
}

// GetState reads a state value.
func (c *Cache) GetState(_ context.Context, key string) (string, bool, error) {
	v, ok := c.items.Get(statePrefix + key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// SetState stores a state value that never expires.
func (c *Cache) SetState(_ context.Context, key, value string) error {
	c.items.Set(statePrefix+key, value, gocache.NoExpiration)
	return nil
}

// Noop is the disabled record cache: record reads miss and record writes are
// dropped. State values, such as the watcher's last announcement, are still
// kept in process so change detection works without a cache backend.
type Noop struct {
	state *gocache.Cache
}

// NewNoop returns a disabled record cache.
func NewNoop() *Noop {
	return &Noop{state: gocache.New(gocache.NoExpiration, 0)}
}

// Get always misses.
func (*Noop) Get(context.Context, string) (results.ResultRecord, bool, error) {
	return results.ResultRecord{}, false, nil
}

// Set discards the record.
func (*Noop) Set(context.Context, results.ResultRecord) error { return nil }

// GetState reads a state value.
func (n *Noop) GetState(_ context.Context, key string) (string, bool, error) {
	if n.state == nil {
		return "", false, nil
	}
	v, ok := n.state.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// SetState stores a state value.
func (n *Noop) SetState(_ context.Context, key, value string) error {
	if n.state != nil {
		n.state.Set(key, value, gocache.NoExpiration)
	}
	return nil
}
