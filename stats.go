package slidecache

// CacheStats is a point-in-time snapshot of the windowed cache.
type CacheStats struct {
	Hits          int64
	Misses        int64
	HitRate       float64
	LoadedCount   int
	PendingCount  int
	MemoryUsageMB float64
	ColdEntries   int
	Epoch         uint64
}

// PrefetchStats is a point-in-time snapshot of the prefetch scheduler.
type PrefetchStats struct {
	Total       int64
	Successful  int64
	Failed      int64
	Cancelled   int64
	SuccessRate float64
	ActiveLoads int
	Queued      int
}
