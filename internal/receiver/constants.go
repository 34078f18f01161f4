package receiver

import "time"

const (
	MaxBodySize           = 100 * 1024       // 100 KiB max body accepted at the edge.
	MaxStoreResponseSize  = 1024 * 1024      // 1 MiB cap on Store response bodies.
	HTTPTimeout           = 10 * time.Second // Outbound Receiver->Store client timeout.
	QuotaCacheTTL         = 30 * time.Second
	EndpointCacheTTL      = 60 * time.Second
	BatchFlushInterval    = 100 * time.Millisecond
	BatchMaxSize          = 50
	BatchMaxPerSlug       = 1000 // Per-slug buffer cap before the oldest entry is dropped.
	ShutdownTimeout       = 10 * time.Second
	MaxCacheEntries       = 10000
	CacheCleanupInterval  = 5 * time.Minute
	MaxHeaderKeyLen       = 256
	MaxHeaderValueLen     = 8192
	CircuitFailThreshold  = 5
	CircuitCooldown       = 30 * time.Second
)
