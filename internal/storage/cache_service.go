package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chain-registry/internal/types"
	"github.com/redis/go-redis/v9"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyChain is for single chain documents
	CacheKeyChain CacheKeyType = "chain"
	// CacheKeyChainList is for per-network chain lists
	CacheKeyChainList CacheKeyType = "chains"
	// CacheKeyPeers is for peer lists
	CacheKeyPeers CacheKeyType = "peers"
	// CacheKeyAPIs is for api endpoint lists
	CacheKeyAPIs CacheKeyType = "apis"
)

const keyPrefix = "registry"

// generationKey counts invalidations. It sits outside keyPrefix so
// invalidation never deletes it.
const generationKey = "registry_generation"

// setIfGeneration stores a value only while the generation is unchanged
var setIfGeneration = redis.NewScript(`
if (redis.call("GET", KEYS[1]) or "0") ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// CacheService caches query results as JSON with a fixed TTL
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: registry:<type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, keyPrefix, string(keyType))
	parts = append(parts, params...)
	return strings.Join(parts, ":")
}

// ChainKey is the key of one chain's most recent import
func (c *CacheService) ChainKey(network types.Network, name string) string {
	return c.GenerateCacheKey(CacheKeyChain, string(network), name)
}

// ChainListKey is the key of a network's chain list
func (c *CacheService) ChainListKey(network types.Network) string {
	return c.GenerateCacheKey(CacheKeyChainList, string(network))
}

// PeersKey is the key of a chain's peer list
func (c *CacheService) PeersKey(network types.Network, name string, includeAll bool) string {
	return c.GenerateCacheKey(CacheKeyPeers, string(network), name, fmt.Sprintf("all=%t", includeAll))
}

// APIsKey is the key of a chain's api list
func (c *CacheService) APIsKey(network types.Network, name string, includeAll bool) string {
	return c.GenerateCacheKey(CacheKeyAPIs, string(network), name, fmt.Sprintf("all=%t", includeAll))
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get retrieves a value from cache and deserializes it.
// A missing key is a miss, not an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Generation returns the current invalidation generation; 0 before the first
func (c *CacheService) Generation(ctx context.Context) (int64, error) {
	data, err := c.redis.Get(ctx, generationKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	gen, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache generation %q: %w", data, err)
	}
	return gen, nil
}

// SetIfGeneration stores a value with the configured TTL unless the cache was
// invalidated since generation was read. It reports whether the value was stored.
func (c *CacheService) SetIfGeneration(ctx context.Context, key string, value interface{}, generation int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	stored, err := setIfGeneration.Run(ctx, c.redis.Client(),
		[]string{generationKey, key},
		strconv.FormatInt(generation, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set cache value: %w", err)
	}
	return stored == 1, nil
}

func (c *CacheService) bumpGeneration(ctx context.Context) error {
	if err := c.redis.Client().Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached query result. Loads already in flight
// will not store their results.
func (c *CacheService) InvalidateAll(ctx context.Context) error {
	if err := c.bumpGeneration(ctx); err != nil {
		return err
	}
	if _, err := c.redis.DeleteMatching(ctx, keyPrefix+":*"); err != nil {
		return fmt.Errorf("failed to invalidate query cache: %w", err)
	}
	return nil
}

// InvalidateEndpoints drops cached peer and api lists, which change with liveness
func (c *CacheService) InvalidateEndpoints(ctx context.Context) error {
	if err := c.bumpGeneration(ctx); err != nil {
		return err
	}
	for _, t := range []CacheKeyType{CacheKeyPeers, CacheKeyAPIs} {
		if _, err := c.redis.DeleteMatching(ctx, c.GenerateCacheKey(t)+":*"); err != nil {
			return fmt.Errorf("failed to invalidate %s cache: %w", t, err)
		}
	}
	return nil
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}
