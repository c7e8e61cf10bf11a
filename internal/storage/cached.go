// internal/storage/cached.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"wardendns.io/internal/cache"
	"wardendns.io/internal/flap"
	"wardendns.io/internal/models"
)

// CachedStore wraps a Store implementation with in-memory caching of the
// record inventory. Health-state operations pass through uncached: the flap
// counters must always see the latest row.
type CachedStore struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore creates a new cached store wrapper
func NewCachedStore(store Store, cache cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

// UpsertState passes through to storage (never cached)
func (cs *CachedStore) UpsertState(ctx context.Context, key models.Endpoint, observed models.Status) (flap.Transition, error) {
	return cs.store.UpsertState(ctx, key, observed)
}

// HostStates passes through to storage (never cached)
func (cs *CachedStore) HostStates(ctx context.Context, zoneID, name string) ([]*models.HostState, error) {
	return cs.store.HostStates(ctx, zoneID, name)
}

// RecordsForHost implements read-through caching for record inventory lookups
func (cs *CachedStore) RecordsForHost(ctx context.Context, name string, types []string) ([]*models.LocalRecord, error) {
	cacheKey := recordCacheKey(name, types)

	if records, found := cs.cache.Get(cacheKey); found {
		return records, nil
	}

	records, err := cs.store.RecordsForHost(ctx, name, types)
	if err != nil {
		return nil, err
	}

	cs.cache.Set(cacheKey, records, cs.ttl)
	return records, nil
}

// UpsertRecord writes through to storage and invalidates the cache
func (cs *CachedStore) UpsertRecord(ctx context.Context, record *models.LocalRecord) error {
	if err := cs.store.UpsertRecord(ctx, record); err != nil {
		return err
	}

	// The inventory is a handful of hostnames; clearing outright is cheaper
	// than tracking which type combinations each hostname was cached under.
	cs.cache.Clear()
	return nil
}

// UpdateRecordStatus writes through to storage and invalidates the cache
func (cs *CachedStore) UpdateRecordStatus(ctx context.Context, id string, status models.Status) error {
	if err := cs.store.UpdateRecordStatus(ctx, id, status); err != nil {
		return err
	}
	cs.cache.Clear()
	return nil
}

// DeleteRecordByID deletes from storage and invalidates the cache
func (cs *CachedStore) DeleteRecordByID(ctx context.Context, id string) error {
	if err := cs.store.DeleteRecordByID(ctx, id); err != nil {
		return err
	}
	cs.cache.Clear()
	return nil
}

// Health checks both storage and cache health
func (cs *CachedStore) Health(ctx context.Context) error {
	if err := cs.store.Health(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}

	// Verify the cache is responsive
	testKey := "__health_check__"
	testRecords := []*models.LocalRecord{{
		ID:      "health-check",
		ZoneID:  "health",
		Name:    "health.test",
		Type:    "A",
		Content: "127.0.0.1",
		TTL:     1,
	}}

	cs.cache.Set(testKey, testRecords, time.Second)
	if records, found := cs.cache.Get(testKey); !found || len(records) == 0 {
		return fmt.Errorf("cache health check failed: unable to retrieve test record")
	}
	cs.cache.Delete(testKey)

	return nil
}

// Close closes both storage and cache
func (cs *CachedStore) Close() error {
	var storeErr, cacheErr error

	if cs.store != nil {
		storeErr = cs.store.Close()
	}
	if cs.cache != nil {
		cacheErr = cs.cache.Close()
	}

	if storeErr != nil {
		return fmt.Errorf("storage close error: %w", storeErr)
	}
	if cacheErr != nil {
		return fmt.Errorf("cache close error: %w", cacheErr)
	}

	return nil
}

// GetCacheStats returns cache statistics for monitoring
func (cs *CachedStore) GetCacheStats() cache.Stats {
	return cs.cache.Stats()
}

// ClearCache clears all cached entries
func (cs *CachedStore) ClearCache() {
	cs.cache.Clear()
}

// recordCacheKey builds a stable cache key for a hostname and type filter
func recordCacheKey(name string, types []string) string {
	sorted := make([]string, len(types))
	for i, t := range types {
		sorted[i] = strings.ToUpper(t)
	}
	sort.Strings(sorted)
	return models.NormalizeDomainName(name) + "|" + strings.Join(sorted, ",")
}
