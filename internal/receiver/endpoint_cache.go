package receiver

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// EndpointCache caches per-slug endpoint configuration so the ingest
// handler never blocks on the Store for a warm slug. Concurrent misses
// for the same slug are coalesced via singleflight so at most one
// /endpoint-info call is in flight per slug at a time.
type EndpointCache struct {
	mu      sync.RWMutex
	entries map[string]*EndpointInfo
	group   singleflight.Group

	ttl    time.Duration
	client *StoreClient
}

func NewEndpointCache(ctx context.Context, client *StoreClient, ttl time.Duration) *EndpointCache {
	c := &EndpointCache{
		entries: make(map[string]*EndpointInfo),
		ttl:     ttl,
		client:  client,
	}
	go c.cleanupLoop(ctx)
	return c
}

func (c *EndpointCache) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup drops entries stale by more than 2x TTL, then trims to
// MaxCacheEntries by evicting the oldest if still over size.
func (c *EndpointCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	staleThreshold := c.ttl * 2
	now := time.Now()
	for slug, entry := range c.entries {
		if now.Sub(entry.LastSync) > staleThreshold {
			delete(c.entries, slug)
		}
	}

	for len(c.entries) > MaxCacheEntries {
		var oldestSlug string
		var oldestTime time.Time
		for slug, entry := range c.entries {
			if oldestSlug == "" || entry.LastSync.Before(oldestTime) {
				oldestSlug, oldestTime = slug, entry.LastSync
			}
		}
		if oldestSlug == "" {
			break
		}
		delete(c.entries, oldestSlug)
	}
}

// Get returns the cached EndpointInfo for slug, refreshing it from the
// Store when absent or stale. On refresh failure it falls back to a
// stale cached value if one exists, logging the failure; otherwise the
// error is surfaced to the caller (spec.md §4.1: endpoint-info fetch
// error with no stale entry -> 500).
func (c *EndpointCache) Get(ctx context.Context, slug string) (*EndpointInfo, error) {
	c.mu.RLock()
	entry, exists := c.entries[slug]
	fresh := exists && time.Since(entry.LastSync) <= c.ttl
	c.mu.RUnlock()

	if fresh {
		return entry, nil
	}

	result, err, _ := c.group.Do(slug, func() (interface{}, error) {
		newEntry, err := c.client.FetchEndpointInfo(ctx, slug)
		if err != nil {
			return nil, err
		}
		// Don't cache not_found: a newly-created endpoint racing this
		// lookup shouldn't get pinned to a false negative for the TTL.
		if newEntry.Error == "" {
			c.mu.Lock()
			c.entries[slug] = newEntry
			c.mu.Unlock()
		}
		return newEntry, nil
	})

	if err != nil {
		if exists {
			log.Printf("endpoint info refresh failed for %s, using stale cache: %v", slug, err)
			return entry, nil
		}
		return nil, err
	}

	return result.(*EndpointInfo), nil
}
