package slidecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordDecode is called after each background decode attempt.
	// bytes is the estimated size of the decoded bitmap, 0 on failure.
	// Cancellations are reported with a cancellation error and must not be
	// counted as failures.
	RecordDecode(duration time.Duration, bytes int64, err error)

	// RecordPriorityLoad is called after each priority (first-image or jump)
	// load completes.
	RecordPriorityLoad(duration time.Duration, err error)

	// RecordPrefetchBatch is called when a window recompute hands misses to
	// the scheduler. requested is the number of in-window indices considered,
	// scheduled the number that actually needed a load.
	RecordPrefetchBatch(requested, scheduled int)

	// RecordEviction is called after an eviction pass.
	RecordEviction(evicted int, bytes int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDecode(time.Duration, int64, error)  {}
func (NoopMetricsCollector) RecordPriorityLoad(time.Duration, error)   {}
func (NoopMetricsCollector) RecordPrefetchBatch(int, int)              {}
func (NoopMetricsCollector) RecordEviction(int, int64)                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	DecodeCount        atomic.Int64
	DecodeErrors       atomic.Int64
	DecodeCancelled    atomic.Int64
	DecodeTotalNanos   atomic.Int64
	DecodeBytes        atomic.Int64
	PriorityCount      atomic.Int64
	PriorityErrors     atomic.Int64
	PriorityTotalNanos atomic.Int64
	PrefetchRequested  atomic.Int64
	PrefetchScheduled  atomic.Int64
	EvictedCount       atomic.Int64
	EvictedBytes       atomic.Int64
}

// RecordDecode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDecode(duration time.Duration, bytes int64, err error) {
	b.DecodeCount.Add(1)
	b.DecodeTotalNanos.Add(duration.Nanoseconds())
	b.DecodeBytes.Add(bytes)
	switch {
	case err == nil:
	case IsCancellation(err):
		b.DecodeCancelled.Add(1)
	default:
		b.DecodeErrors.Add(1)
	}
}

// RecordPriorityLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPriorityLoad(duration time.Duration, err error) {
	b.PriorityCount.Add(1)
	b.PriorityTotalNanos.Add(duration.Nanoseconds())
	if err != nil && !IsCancellation(err) {
		b.PriorityErrors.Add(1)
	}
}

// RecordPrefetchBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrefetchBatch(requested, scheduled int) {
	b.PrefetchRequested.Add(int64(requested))
	b.PrefetchScheduled.Add(int64(scheduled))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(evicted int, bytes int64) {
	b.EvictedCount.Add(int64(evicted))
	b.EvictedBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		DecodeCount:       b.DecodeCount.Load(),
		DecodeErrors:      b.DecodeErrors.Load(),
		DecodeCancelled:   b.DecodeCancelled.Load(),
		DecodeBytes:       b.DecodeBytes.Load(),
		PriorityCount:     b.PriorityCount.Load(),
		PriorityErrors:    b.PriorityErrors.Load(),
		PrefetchRequested: b.PrefetchRequested.Load(),
		PrefetchScheduled: b.PrefetchScheduled.Load(),
		EvictedCount:      b.EvictedCount.Load(),
		EvictedBytes:      b.EvictedBytes.Load(),
	}
	if stats.DecodeCount > 0 {
		stats.DecodeAvgNanos = b.DecodeTotalNanos.Load() / stats.DecodeCount
	}
	if stats.PriorityCount > 0 {
		stats.PriorityAvgNanos = b.PriorityTotalNanos.Load() / stats.PriorityCount
	}
	return stats
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	DecodeCount       int64
	DecodeErrors      int64
	DecodeCancelled   int64
	DecodeAvgNanos    int64
	DecodeBytes       int64
	PriorityCount     int64
	PriorityErrors    int64
	PriorityAvgNanos  int64
	PrefetchRequested int64
	PrefetchScheduled int64
	EvictedCount      int64
	EvictedBytes      int64
}
