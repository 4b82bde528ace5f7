package slidecache

import (
	"context"
	"sync"
	"time"

	"github.com/primelux/slidecache/model"
)

// decodeFunc produces a bitmap for a photo. The loader and the scheduler
// runner both get one from the facade, which decides whether a cold-tier
// rehydrate can stand in for a full decode.
type decodeFunc func(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error)

// LoadResult is the outcome of a priority load.
type LoadResult struct {
	Photo model.PhotoRef
	Image *model.Bitmap
	Err   error
}

// LoadHandle is a cancellable subscription to a priority load. The result
// channel is buffered and receives exactly one value; a superseded or
// cancelled load delivers a result with ErrCancelled rather than going
// silent, so subscribers never leak.
type LoadHandle struct {
	photo  model.PhotoRef
	ch     chan LoadResult
	cancel context.CancelFunc
	once   sync.Once
}

func newLoadHandle(photo model.PhotoRef, cancel context.CancelFunc) *LoadHandle {
	return &LoadHandle{
		photo:  photo,
		ch:     make(chan LoadResult, 1),
		cancel: cancel,
	}
}

// Photo returns the load's target.
func (h *LoadHandle) Photo() model.PhotoRef { return h.photo }

// Result returns the channel the outcome is delivered on.
func (h *LoadHandle) Result() <-chan LoadResult { return h.ch }

// Cancel aborts the load. The handle still delivers a (cancelled) result.
func (h *LoadHandle) Cancel() { h.cancel() }

// Wait blocks for the outcome, honoring ctx.
func (h *LoadHandle) Wait(ctx context.Context) (LoadResult, error) {
	select {
	case res := <-h.ch:
		return res, nil
	case <-ctx.Done():
		return LoadResult{}, ctx.Err()
	}
}

// deliver publishes the result exactly once.
func (h *LoadHandle) deliver(res LoadResult) {
	h.once.Do(func() {
		h.ch <- res
	})
}

// priorityLoader runs latency-critical single-target decodes: the first
// image after open and explicit jumps. It bypasses the prefetch queue so a
// jump to item 9000 of 10000 never waits behind prefetches near the old
// position.
//
// Only one priority request is outstanding at a time. Issuing a new one
// supersedes and cancels the previous: last jump wins.
type priorityLoader struct {
	mu      sync.Mutex
	current *LoadHandle

	decode decodeFunc
	pool   *DecodePool

	logger  *Logger
	metrics MetricsCollector
}

func newPriorityLoader(decode decodeFunc, pool *DecodePool, logger *Logger, metrics MetricsCollector) *priorityLoader {
	return &priorityLoader{
		decode:  decode,
		pool:    pool,
		logger:  logger,
		metrics: metrics,
	}
}

// load issues a priority decode for ref. onDone runs before the result is
// delivered on the handle, letting the owner install the bitmap so that by
// the time a subscriber observes success the photo is already resident.
func (pl *priorityLoader) load(ctx context.Context, ref model.PhotoRef, onDone func(LoadResult)) *LoadHandle {
	loadCtx, cancel := context.WithCancel(ctx)
	handle := newLoadHandle(ref, cancel)

	pl.mu.Lock()
	if pl.current != nil {
		pl.current.Cancel()
	}
	pl.current = handle
	pl.mu.Unlock()

	task := func(runCtx context.Context) {
		start := time.Now()
		bm, err := pl.decode(runCtx, ref)
		err = translateError(err)

		pl.mu.Lock()
		if pl.current == handle {
			pl.current = nil
		}
		pl.mu.Unlock()

		pl.metrics.RecordPriorityLoad(time.Since(start), err)
		pl.logger.LogDecode(runCtx, ref.ID, time.Since(start), err)

		res := LoadResult{Photo: ref, Image: bm, Err: err}
		if onDone != nil {
			onDone(res)
		}
		handle.deliver(res)
	}

	if err := pl.pool.Submit(loadCtx, task); err != nil {
		pl.mu.Lock()
		if pl.current == handle {
			pl.current = nil
		}
		pl.mu.Unlock()
		cancel()
		handle.deliver(LoadResult{Photo: ref, Err: translateError(err)})
	}

	return handle
}

// cleanup cancels any outstanding priority request. The cancelled handle
// still delivers its result through the normal path.
func (pl *priorityLoader) cleanup() {
	pl.mu.Lock()
	h := pl.current
	pl.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
}
