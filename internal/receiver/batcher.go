package receiver

import (
	"context"
	"log"
	"sync"
	"time"
)

// RequestBatcher buffers captured requests per slug and flushes them to
// the Store in batches, triggered by size or by a per-slug timer. It
// tracks in-flight flush goroutines in a WaitGroup so shutdown can wait
// for them to drain.
type RequestBatcher struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	buffers map[string][]BufferedRequest
	timers  map[string]*time.Timer

	maxSize  int
	interval time.Duration
	client   *StoreClient
}

func NewRequestBatcher(client *StoreClient, maxSize int, interval time.Duration) *RequestBatcher {
	return &RequestBatcher{
		buffers:  make(map[string][]BufferedRequest),
		timers:   make(map[string]*time.Timer),
		maxSize:  maxSize,
		interval: interval,
		client:   client,
	}
}

// Add enqueues req under slug. It never blocks on I/O: a size-triggered
// flush dispatches in a background goroutine, and a time-triggered flush
// is armed via time.AfterFunc. Buffers are capped at BatchMaxPerSlug;
// once full, the oldest queued request is dropped to bound memory.
func (b *RequestBatcher) Add(slug string, req BufferedRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffers[slug]) >= BatchMaxPerSlug {
		log.Printf("batch buffer full for %s (%d requests), dropping oldest", slug, len(b.buffers[slug]))
		b.buffers[slug] = b.buffers[slug][1:]
	}
	b.buffers[slug] = append(b.buffers[slug], req)

	if len(b.buffers[slug]) >= b.maxSize {
		b.flushLocked(slug)
		return
	}

	if timer, exists := b.timers[slug]; exists {
		timer.Stop()
	}
	b.timers[slug] = time.AfterFunc(b.interval, func() {
		b.Flush(slug)
	})
}

// Flush dispatches the buffered requests for slug, if any.
func (b *RequestBatcher) Flush(slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked(slug)
}

// flushLocked must be called with b.mu held.
func (b *RequestBatcher) flushLocked(slug string) {
	requests := b.buffers[slug]
	if len(requests) == 0 {
		return
	}
	delete(b.buffers, slug)
	if timer, exists := b.timers[slug]; exists {
		timer.Stop()
		delete(b.timers, slug)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		// A fresh background context: the flush must outlive the inbound
		// request that triggered it, so in-flight captures survive
		// client disconnects (spec.md §5).
		ctx, cancel := context.WithTimeout(context.Background(), HTTPTimeout)
		defer cancel()

		resp, err := b.client.CaptureBatch(ctx, slug, requests)
		if err != nil {
			log.Printf("batch capture failed for %s (%d requests): %v", slug, len(requests), err)
			return
		}
		if resp.Error != "" {
			log.Printf("batch capture error for %s: %s", slug, resp.Error)
			return
		}
		log.Printf("batch captured %d requests for %s", resp.Inserted, slug)
	}()
}

// FlushAll synchronously enqueues a dispatch for every pending buffer;
// used on graceful shutdown.
func (b *RequestBatcher) FlushAll() {
	b.mu.Lock()
	slugs := make([]string, 0, len(b.buffers))
	for slug := range b.buffers {
		slugs = append(slugs, slug)
	}
	b.mu.Unlock()

	for _, slug := range slugs {
		b.Flush(slug)
	}
}

// Wait blocks until all in-flight flush goroutines complete.
func (b *RequestBatcher) Wait() {
	b.wg.Wait()
}
