package slidecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/primelux/slidecache/decoder"
	"github.com/primelux/slidecache/model"
	"github.com/primelux/slidecache/resource"
)

// ImageLoadedCallback is fired on completion of any background or priority
// decode, success or failure. Cancellations never fire it. img is nil on
// failure; err is nil on success.
type ImageLoadedCallback func(id model.PhotoID, img *model.Bitmap, err error)

// Loader is the image loading and caching facade for slideshow navigation.
// It keeps a bounded window of decoded images resident around the current
// position, prefetches ahead of the direction of travel, and preempts
// everything for latency-critical jumps.
//
// A Loader is safe for concurrent use. Construct one per open folder view
// and Close it on teardown.
type Loader struct {
	dec  decoder.Decoder
	rc   *resource.Controller
	pool *DecodePool

	cache *windowCache
	sched *prefetchScheduler
	prio  *priorityLoader
	cold  *ColdTier

	logger  *Logger
	metrics MetricsCollector

	baseCtx    context.Context
	baseCancel context.CancelFunc

	callback atomic.Pointer[ImageLoadedCallback]

	closed atomic.Bool
	wg     sync.WaitGroup // async window rebuilds
}

// New creates a Loader decoding through dec.
func New(dec decoder.Decoder, optFns ...Option) (*Loader, error) {
	if dec == nil {
		return nil, errors.New("slidecache: decoder must not be nil")
	}

	opts := Options{
		Logger:           NoopLogger(),
		MetricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := opts.Settings.normalized()

	cold := opts.ColdTier
	if cold == nil && !opts.ColdTierDisabled {
		cold = NewColdTier(opts.coldCodec, s.budgetBytes()/4)
	}
	if opts.ColdTierDisabled {
		cold = nil
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	l := &Loader{
		dec:        dec,
		rc:         opts.ResourceController,
		pool:       NewDecodePool(s.MaxConcurrentLoads),
		cold:       cold,
		logger:     opts.Logger,
		metrics:    opts.MetricsCollector,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	l.cache = newWindowCache(s, cold, l.logger, l.metrics)
	l.sched = newPrefetchScheduler(l.pool, s, l.runRequest, l.abandonRequest)
	l.prio = newPriorityLoader(l.priorityDecode, l.pool, l.logger, l.metrics)

	return l, nil
}

// LoadImageWindow recomputes the resident window around index and schedules
// decodes for every in-window photo that is neither resident nor in flight.
// Out-of-window prefetches are cancelled and remaining ones re-ranked toward
// the new position. Repeating the call over a fully resident window issues
// no work.
func (l *Loader) LoadImageWindow(ctx context.Context, photos model.Collection, index int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := validateIndex(photos, index); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return translateError(err)
	}

	s := l.cache.currentSettings()
	reqs, lo, hi := l.cache.plan(photos, index, s.effectiveWindow(photos.Len()))
	l.logger.LogWindow(ctx, lo, hi, len(reqs))
	l.metrics.RecordPrefetchBatch(hi-lo+1, len(reqs))

	// Keep-range hysteresis: in-flight work just outside the load window is
	// still useful, so cancellation uses the wider radius.
	l.sched.updatePriorities(l.baseCtx, index, s.keepRadius())
	l.sched.enqueue(l.baseCtx, reqs, index)
	return nil
}

// SchedulePreload schedules decodes over the wider preload span around
// index, forward indices first. Use it when the window is already resident
// and the slideshow is idling on one photo.
func (l *Loader) SchedulePreload(ctx context.Context, photos model.Collection, index int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := validateIndex(photos, index); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return translateError(err)
	}

	s := l.cache.currentSettings()
	reqs, lo, hi := l.cache.plan(photos, index, s.keepRadius())
	l.metrics.RecordPrefetchBatch(hi-lo+1, len(reqs))
	l.sched.enqueue(l.baseCtx, reqs, index)
	return nil
}

// UpdatePriorities re-ranks outstanding prefetches relative to newIndex and
// cancels those that fell outside the window. It schedules nothing new.
func (l *Loader) UpdatePriorities(photos model.Collection, newIndex int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := validateIndex(photos, newIndex); err != nil {
		return err
	}

	l.cache.setCurrent(photos.At(newIndex).ID, newIndex)
	l.sched.updatePriorities(l.baseCtx, newIndex, l.cache.currentSettings().keepRadius())
	return nil
}

// CancelAllPreloads cancels every queued and in-flight prefetch.
func (l *Loader) CancelAllPreloads() {
	l.sched.cancelAll()
}

// ClearCache cancels all pending work and drops every cached image.
// Called on folder change.
func (l *Loader) ClearCache() {
	l.sched.cancelAll()
	l.prio.cleanup()
	l.cache.clear()
}

// UpdateSettings applies new tunables and starts a new configuration epoch.
// Entries decoded under older epochs become preferred eviction victims; the
// new memory budget is enforced immediately, except that the current photo
// is never evicted.
func (l *Loader) UpdateSettings(s Settings) {
	ns := s.normalized()
	epoch := l.cache.updateSettings(ns)
	l.sched.setLimits(ns.MaxConcurrentLoads, ns.ForwardBias)
	l.logger.LogSettings(l.baseCtx, epoch, ns)
}

// Settings returns the live tunables.
func (l *Loader) Settings() Settings {
	return l.cache.currentSettings()
}

// HandleFirstImageLoad decodes photo at maximum priority, outside the
// prefetch queue. The returned handle delivers exactly one result; by the
// time a success is observed the image is already retrievable via GetImage.
func (l *Loader) HandleFirstImageLoad(ctx context.Context, photo model.PhotoRef) *LoadHandle {
	if l.closed.Load() {
		return closedHandle(photo)
	}

	l.cache.setInitial(photo.ID)

	return l.prio.load(ctx, photo, func(res LoadResult) {
		if res.Err == nil {
			l.cache.adopt(photo, -1, res.Image)
		}
		if !IsCancellation(res.Err) {
			l.fireCallback(photo.ID, res.Image, res.Err)
		}
	})
}

// HandleProgressBarJump preempts all background work and decodes the photo
// at index immediately: queued prefetches are dropped, in-flight decodes not
// matching the target are cancelled, and after the priority decode completes
// the window around the new position is rebuilt asynchronously without
// blocking the returned handle.
//
// A newer jump supersedes an older one; the superseded handle delivers a
// cancelled result, never a failure.
func (l *Loader) HandleProgressBarJump(ctx context.Context, photos model.Collection, index int) (*LoadHandle, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateIndex(photos, index); err != nil {
		return nil, err
	}

	target := photos.At(index)
	l.logger.LogJump(ctx, target.ID, index)

	l.sched.cancelQueued()
	l.sched.cancelMismatched(target.ID)
	l.cache.setCurrent(target.ID, index)

	handle := l.prio.load(ctx, target, func(res LoadResult) {
		if res.Err == nil {
			l.cache.adopt(target, index, res.Image)
		}
		if !IsCancellation(res.Err) {
			l.fireCallback(target.ID, res.Image, res.Err)
		}
		if IsCancellation(res.Err) {
			return // a newer jump owns the window now
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			_ = l.LoadImageWindow(l.baseCtx, photos, index)
		}()
	})
	return handle, nil
}

// Cleanup cancels any outstanding priority request. Called on folder change
// and teardown.
func (l *Loader) Cleanup() {
	l.prio.cleanup()
}

// GetImage returns the resident decoded image for id, or nil. O(1); counts
// toward hit/miss statistics.
func (l *Loader) GetImage(id model.PhotoID) *model.Bitmap {
	return l.cache.get(id)
}

// IsLoading reports whether a decode for id is in flight.
func (l *Loader) IsLoading(id model.PhotoID) bool {
	return l.cache.isLoading(id)
}

// LoadError returns the recorded error for a photo whose decode failed, or
// nil.
func (l *Loader) LoadError(id model.PhotoID) error {
	return l.cache.failure(id)
}

// CacheStatistics snapshots cache counters.
func (l *Loader) CacheStatistics() CacheStats {
	return l.cache.stats()
}

// PrefetchStatistics snapshots scheduler counters.
func (l *Loader) PrefetchStatistics() PrefetchStats {
	return l.sched.stats()
}

// SetImageLoadedCallback installs the completion callback. Pass nil to
// remove it. The callback runs on decode goroutines and must not block.
func (l *Loader) SetImageLoadedCallback(cb ImageLoadedCallback) {
	if cb == nil {
		l.callback.Store(nil)
		return
	}
	l.callback.Store(&cb)
}

// Close cancels all work, stops the pool, and drops the cache. Idempotent.
func (l *Loader) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.baseCancel()
	l.sched.close()
	l.prio.cleanup()
	l.pool.Close()
	l.wg.Wait()
	l.cache.clear()
	return nil
}

func (l *Loader) fireCallback(id model.PhotoID, img *model.Bitmap, err error) {
	if cb := l.callback.Load(); cb != nil {
		(*cb)(id, img, err)
	}
}

// runRequest executes one scheduled decode: rehydrate from the cold tier if
// possible, otherwise decode through the injected decoder, then apply the
// completion to the cache.
func (l *Loader) runRequest(ctx context.Context, req loadRequest) error {
	start := time.Now()
	bm, err := l.materialize(ctx, req.ref)
	err = translateError(err)
	elapsed := time.Since(start)

	var bytes int64
	if err == nil {
		bytes = bm.EstimatedBytes()
	}
	l.metrics.RecordDecode(elapsed, bytes, err)
	l.logger.LogDecode(ctx, req.ref.ID, elapsed, err)

	applied := l.cache.complete(req.ref.ID, req.epoch, bm, err)
	if applied && !IsCancellation(err) {
		l.fireCallback(req.ref.ID, bm, err)
	}
	return err
}

// abandonRequest reverts a request the scheduler dropped before running it,
// so the cache stops considering it in flight and a later window recompute
// can reissue it.
func (l *Loader) abandonRequest(req loadRequest) {
	l.cache.complete(req.ref.ID, req.epoch, nil, ErrCancelled)
}

func (l *Loader) materialize(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error) {
	if bm, ok := l.cold.Take(ref.ID); ok {
		return bm, nil
	}

	// Background decodes respect the shared load-slot budget when a
	// controller is configured; the priority path never waits here.
	if err := l.rc.AcquireLoadSlot(ctx); err != nil {
		return nil, err
	}
	defer l.rc.ReleaseLoadSlot()

	return l.dec.Decode(ctx, ref)
}

// priorityDecode is materialize without the load-slot wait: a jump must
// never queue behind background work.
func (l *Loader) priorityDecode(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error) {
	if bm, ok := l.cold.Take(ref.ID); ok {
		return bm, nil
	}
	return l.dec.Decode(ctx, ref)
}

func validateIndex(photos model.Collection, index int) error {
	if photos == nil || index < 0 || index >= photos.Len() {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return nil
}

func closedHandle(photo model.PhotoRef) *LoadHandle {
	h := newLoadHandle(photo, func() {})
	h.deliver(LoadResult{Photo: photo, Err: ErrClosed})
	return h
}
