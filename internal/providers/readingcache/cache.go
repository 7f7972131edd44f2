package readingcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	devices "watt-rewards/internal/devices/domain"
)

// DefaultTTL bounds how stale a cached lifetime reading may be before
// the pending view goes back to the provider.
const DefaultTTL = 5 * time.Minute

// RedisCache caches provider readings in Redis so repeated pending
// checks do not hammer provider APIs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a cache. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("readingcache: nil redis client")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func cacheKey(provider, deviceID string) string {
	return "reading:" + provider + ":" + deviceID
}

// Get returns the cached reading for a device, if present and fresh.
func (c *RedisCache) Get(ctx context.Context, provider, deviceID string) (devices.Reading, bool, error) {
	payload, err := c.client.Get(ctx, cacheKey(provider, deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var reading devices.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, false, err
	}
	return reading, true, nil
}

// Set stores a reading under the cache TTL.
func (c *RedisCache) Set(ctx context.Context, provider, deviceID string, reading devices.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(provider, deviceID), payload, c.ttl).Err()
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type memoryItem struct {
	reading   devices.Reading
	expiresAt time.Time
}

// MemoryCache is an in-process cache with the same semantics as
// RedisCache, used in tests and single-node deployments.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	clock Clock
}

// NewMemoryCache constructs a cache. clock may be nil.
func NewMemoryCache(ttl time.Duration, clock Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryCache{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		clock: clock,
	}
}

// Get returns the cached reading, if present and fresh.
func (c *MemoryCache) Get(ctx context.Context, provider, deviceID string) (devices.Reading, bool, error) {
	c.mu.RLock()
	item, ok := c.items[cacheKey(provider, deviceID)]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(item.expiresAt) {
		return nil, false, nil
	}
	return item.reading.Clone(), true, nil
}

// Set stores a reading under the cache TTL.
func (c *MemoryCache) Set(ctx context.Context, provider, deviceID string, reading devices.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[cacheKey(provider, deviceID)] = memoryItem{
		reading:   reading.Clone(),
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	return nil
}
