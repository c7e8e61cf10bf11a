// internal/storage/redis_cache.go
package storage

import (
	"context"
	"fmt"
	"time"

	"wardendns.io/internal/cache"
	"wardendns.io/internal/flap"
	"wardendns.io/internal/models"
	"wardendns.io/internal/redis"
)

// RedisCachedStore layers Redis behind the in-memory cache: Memory -> Redis
// -> Storage. The Redis tier lets a restarted controller skip the initial
// database read for record inventory.
type RedisCachedStore struct {
	store       Store
	memoryCache cache.Cache
	redisClient string
	keyPrefix   string
	ttl         time.Duration
}

// CacheStats represents comprehensive cache statistics for two-tier caching
type CacheStats struct {
	L1Stats     cache.Stats `json:"l1_memory"`
	L2Stats     RedisStats  `json:"l2_redis"`
	TotalLayers int         `json:"total_layers"`
}

// RedisStats represents Redis-specific cache statistics
type RedisStats struct {
	Connected bool `json:"connected"`
	KeyCount  int  `json:"key_count"`
}

// NewRedisCachedStore creates a new Redis-backed cached store
func NewRedisCachedStore(store Store, memoryCache cache.Cache, redisClientName, keyPrefix string, ttl time.Duration) *RedisCachedStore {
	return &RedisCachedStore{
		store:       store,
		memoryCache: memoryCache,
		redisClient: redisClientName,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
	}
}

// UpsertState passes through to storage (never cached)
func (rcs *RedisCachedStore) UpsertState(ctx context.Context, key models.Endpoint, observed models.Status) (flap.Transition, error) {
	return rcs.store.UpsertState(ctx, key, observed)
}

// HostStates passes through to storage (never cached)
func (rcs *RedisCachedStore) HostStates(ctx context.Context, zoneID, name string) ([]*models.HostState, error) {
	return rcs.store.HostStates(ctx, zoneID, name)
}

// RecordsForHost implements two-tier caching: Memory -> Redis -> Storage
func (rcs *RedisCachedStore) RecordsForHost(ctx context.Context, name string, types []string) ([]*models.LocalRecord, error) {
	cacheKey := rcs.keyPrefix + recordCacheKey(name, types)

	// L1: Check memory cache first
	if records, found := rcs.memoryCache.Get(cacheKey); found {
		return records, nil
	}

	// L2: Check Redis cache
	var records []*models.LocalRecord
	if err := redis.GetJSONFrom(rcs.redisClient, cacheKey, &records); err == nil && len(records) > 0 {
		// Cache hit in Redis - populate memory cache
		rcs.memoryCache.Set(cacheKey, records, rcs.ttl)
		return records, nil
	}

	// Cache miss - query storage
	records, err := rcs.store.RecordsForHost(ctx, name, types)
	if err != nil {
		return nil, err
	}

	// Populate both cache layers; Redis keeps entries twice as long so a
	// restart within the window still finds them.
	rcs.memoryCache.Set(cacheKey, records, rcs.ttl)
	if len(records) > 0 {
		redis.SetJSONOn(rcs.redisClient, cacheKey, records)
		redis.ExpireOn(rcs.redisClient, cacheKey, int((2 * rcs.ttl).Seconds()))
	}

	return records, nil
}

// UpsertRecord writes through to storage and invalidates both cache layers
func (rcs *RedisCachedStore) UpsertRecord(ctx context.Context, record *models.LocalRecord) error {
	if err := rcs.store.UpsertRecord(ctx, record); err != nil {
		return err
	}
	rcs.ClearCache()
	return nil
}

// UpdateRecordStatus writes through to storage and invalidates both cache layers
func (rcs *RedisCachedStore) UpdateRecordStatus(ctx context.Context, id string, status models.Status) error {
	if err := rcs.store.UpdateRecordStatus(ctx, id, status); err != nil {
		return err
	}
	rcs.ClearCache()
	return nil
}

// DeleteRecordByID deletes from storage and invalidates both cache layers
func (rcs *RedisCachedStore) DeleteRecordByID(ctx context.Context, id string) error {
	if err := rcs.store.DeleteRecordByID(ctx, id); err != nil {
		return err
	}
	rcs.ClearCache()
	return nil
}

// Health checks storage, memory cache, and Redis
func (rcs *RedisCachedStore) Health(ctx context.Context) error {
	if err := rcs.store.Health(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}

	if err := redis.PingClient(rcs.redisClient); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// Close closes storage and the memory cache
func (rcs *RedisCachedStore) Close() error {
	var storeErr, cacheErr error

	if rcs.store != nil {
		storeErr = rcs.store.Close()
	}
	if rcs.memoryCache != nil {
		cacheErr = rcs.memoryCache.Close()
	}

	if storeErr != nil {
		return fmt.Errorf("storage close error: %w", storeErr)
	}
	if cacheErr != nil {
		return fmt.Errorf("cache close error: %w", cacheErr)
	}

	return nil
}

// GetCacheStats returns comprehensive cache statistics for both tiers
func (rcs *RedisCachedStore) GetCacheStats() CacheStats {
	memStats := rcs.memoryCache.Stats()

	redisStats := RedisStats{
		Connected: redis.PingClient(rcs.redisClient) == nil,
		KeyCount:  rcs.getRedisKeyCount(),
	}

	return CacheStats{
		L1Stats:     memStats,
		L2Stats:     redisStats,
		TotalLayers: 2,
	}
}

// ClearCache clears both memory and Redis cache layers
func (rcs *RedisCachedStore) ClearCache() {
	// Clear L1 (memory cache)
	rcs.memoryCache.Clear()

	// Clear L2 (Redis cache) - only our keys
	rcs.clearRedisCache()
}

// getRedisKeyCount counts keys with our prefix in Redis
func (rcs *RedisCachedStore) getRedisKeyCount() int {
	pattern := rcs.keyPrefix + "*"
	keys, err := redis.ScanFrom(rcs.redisClient, pattern)
	if err != nil {
		return -1 // Indicate error
	}
	return len(keys)
}

// clearRedisCache removes all keys with our prefix from Redis
func (rcs *RedisCachedStore) clearRedisCache() {
	pattern := rcs.keyPrefix + "*"
	keys, err := redis.ScanFrom(rcs.redisClient, pattern)
	if err != nil {
		return
	}

	if len(keys) > 0 {
		redis.DeleteOn(rcs.redisClient, keys...)
	}
}
