package receiver

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// QuotaEntry is the cached remaining-budget view for a slug's owner.
type QuotaEntry struct {
	OwnerID     string
	Remaining   int64
	Limit       int64
	PeriodEnd   int64
	IsUnlimited bool
	LastSync    time.Time
}

// QuotaCheckResult is the outcome of a quota admission check.
type QuotaCheckResult struct {
	Allowed bool
}

// QuotaCache maps slug -> QuotaEntry with a short TTL. It is advisory:
// the Store never re-checks quota on write, so over-admission is bounded
// by TTL x ingest rate x Receiver instance count (spec.md §4.3).
type QuotaCache struct {
	mu      sync.RWMutex
	entries map[string]*QuotaEntry
	group   singleflight.Group

	ttl    time.Duration
	client *StoreClient
}

func NewQuotaCache(ctx context.Context, client *StoreClient, ttl time.Duration) *QuotaCache {
	c := &QuotaCache{
		entries: make(map[string]*QuotaEntry),
		ttl:     ttl,
		client:  client,
	}
	go c.cleanupLoop(ctx)
	return c
}

func (c *QuotaCache) cleanupLoop(ctx context.Context) {
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

func (c *QuotaCache) cleanup() {
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

func (c *QuotaCache) get(slug string) (*QuotaEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[slug]
	return entry, ok
}

// refresh fetches quota (and, for a free owner whose period hasn't
// started, lazily activates it via /check-period) and stores the result.
func (c *QuotaCache) refresh(ctx context.Context, slug string) (*QuotaEntry, error) {
	result, err, _ := c.group.Do(slug, func() (interface{}, error) {
		resp, err := c.client.FetchQuota(ctx, slug)
		if err != nil {
			return nil, err
		}
		if resp.Error == "not_found" {
			return nil, nil
		}

		remaining, limit, periodEnd := resp.Remaining, resp.Limit, int64(0)
		if resp.PeriodEnd != nil {
			periodEnd = *resp.PeriodEnd
		}

		if resp.NeedsPeriodStart && resp.OwnerID != "" {
			periodResp, err := c.client.CheckPeriod(ctx, resp.OwnerID)
			if err != nil {
				log.Printf("check-period failed for owner %s: %v", resp.OwnerID, err)
			} else if periodResp.Error == "" || periodResp.Error == "quota_exceeded" {
				remaining, limit = periodResp.Remaining, periodResp.Limit
				if periodResp.PeriodEnd != nil {
					periodEnd = *periodResp.PeriodEnd
				}
			}
		}

		entry := &QuotaEntry{
			OwnerID:     resp.OwnerID,
			Remaining:   remaining,
			Limit:       limit,
			PeriodEnd:   periodEnd,
			IsUnlimited: remaining == -1,
			LastSync:    time.Now(),
		}
		c.mu.Lock()
		c.entries[slug] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*QuotaEntry), nil
}

// CheckAndDecrement performs the atomic admission check spec.md §4.1
// step 3 describes: fresh cache -> decide locally; stale/missing cache
// -> refresh, falling back to a stale entry on error, and fail-open
// only while the breaker is still closed enough to trust the silence.
func (c *QuotaCache) CheckAndDecrement(ctx context.Context, slug string) QuotaCheckResult {
	entry, ok := c.get(slug)
	fresh := ok && time.Since(entry.LastSync) <= c.ttl

	if !fresh {
		newEntry, err := c.refresh(ctx, slug)
		switch {
		case err != nil:
			if ok {
				log.Printf("quota refresh failed for %s, using stale cache: %v", slug, err)
				// entry already holds the stale cached value; fall through.
			} else if c.client.Breaker().isDegraded() {
				// No cached data and the Store is provably unreachable:
				// fail closed rather than admit unbounded traffic.
				log.Printf("quota refresh failed for %s with no cache and open circuit, failing closed: %v", slug, err)
				return QuotaCheckResult{Allowed: false}
			} else {
				log.Printf("quota refresh failed for %s, failing open: %v", slug, err)
				return QuotaCheckResult{Allowed: true}
			}
		case newEntry == nil:
			// Endpoint not found; let the endpoint cache's 404 win.
			return QuotaCheckResult{Allowed: true}
		default:
			entry = newEntry
		}
	}

	if entry == nil || entry.IsUnlimited {
		return QuotaCheckResult{Allowed: true}
	}

	return c.decrement(slug, entry)
}

// decrement re-reads the entry under the write lock to avoid a
// lost-update race against a concurrent refresh, then decrements if
// positive.
func (c *QuotaCache) decrement(slug string, fallback *QuotaEntry) QuotaCheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[slug]
	if !ok {
		entry = fallback
	}
	if entry == nil || entry.IsUnlimited {
		return QuotaCheckResult{Allowed: true}
	}
	if entry.Remaining <= 0 {
		return QuotaCheckResult{Allowed: false}
	}
	entry.Remaining--
	c.entries[slug] = entry
	return QuotaCheckResult{Allowed: true}
}
