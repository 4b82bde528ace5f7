package slidecache

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/primelux/slidecache/model"
	"github.com/primelux/slidecache/queue"
)

// scheduledLoad pairs a queued heap item with its full request so the
// dispatcher can hand the request to the runner when the item surfaces.
type scheduledLoad struct {
	item *queue.Item
	req  loadRequest
}

// inflightLoad tracks a dispatched request: its index for window checks and
// the cancel func that aborts its decode.
type inflightLoad struct {
	index  int
	cancel context.CancelFunc
}

// prefetchScheduler orders cache misses and feeds them to the decode pool
// with bounded in-flight concurrency. It only orders and dispatches work;
// decoding happens in the runner it was constructed with, so the scheduler
// can never violate the pool's concurrency cap.
//
// Priority is directional: slideshows advance forward, so a photo k steps
// ahead outranks one k steps behind by the configured forward bias.
type prefetchScheduler struct {
	mu       sync.Mutex
	pq       queue.PrefetchQueue
	queued   map[model.PhotoID]*scheduledLoad
	inflight map[model.PhotoID]*inflightLoad

	maxInFlight int
	bias        float64
	closed      bool

	pool *DecodePool

	// run executes a dispatched request; abandon reverts a request dropped
	// from the queue without ever running, so the cache can forget its
	// pending mark.
	run     func(ctx context.Context, req loadRequest) error
	abandon func(req loadRequest)

	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
}

func newPrefetchScheduler(pool *DecodePool, s Settings, run func(ctx context.Context, req loadRequest) error, abandon func(req loadRequest)) *prefetchScheduler {
	return &prefetchScheduler{
		queued:      make(map[model.PhotoID]*scheduledLoad),
		inflight:    make(map[model.PhotoID]*inflightLoad),
		maxInFlight: min(s.MaxConcurrentLoads, pool.Size()),
		bias:        s.ForwardBias,
		pool:        pool,
		run:         run,
		abandon:     abandon,
	}
}

// priorityFor scores a request relative to the current index. Lower is
// served first. Forward requests are divided by the bias so that, at the
// default 2.0, a photo 4 ahead ties with a photo 2 behind.
func (ps *prefetchScheduler) priorityFor(index, current int) float64 {
	d := index - current
	if d >= 0 {
		return float64(d) / ps.bias
	}
	return float64(-d)
}

// enqueue admits requests around currentIndex and starts dispatching.
// Requests already queued are re-scored in place; requests already in flight
// are left alone (one in-flight decode per photo).
func (ps *prefetchScheduler) enqueue(ctx context.Context, reqs []loadRequest, currentIndex int) {
	if len(reqs) == 0 {
		return
	}

	ps.mu.Lock()

	if ps.closed {
		ps.mu.Unlock()
		ps.abandonAll(reqs)
		return
	}

	var dropped []loadRequest
	for _, req := range reqs {
		if _, ok := ps.inflight[req.ref.ID]; ok {
			// Still decoding. The plan that produced req has re-marked the
			// entry pending, so the duplicate goes through abandon to revert
			// that mark; dropping it silently would strand the photo when
			// the running decode's completion landed before this replan.
			dropped = append(dropped, req)
			continue
		}
		prio := ps.priorityFor(req.index, currentIndex)

		if sl, ok := ps.queued[req.ref.ID]; ok {
			sl.req = req
			sl.item.Priority = prio
			heap.Fix(&ps.pq, sl.item.Slot)
			continue
		}

		item := &queue.Item{
			ID:       string(req.ref.ID),
			Index:    req.index,
			Priority: prio,
		}
		heap.Push(&ps.pq, item)
		ps.queued[req.ref.ID] = &scheduledLoad{item: item, req: req}
		ps.total.Add(1)
	}

	dropped = append(dropped, ps.dispatchLocked(ctx)...)
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

// updatePriorities re-ranks queued requests relative to newIndex and cancels
// any request, queued or in flight, whose index left the window.
func (ps *prefetchScheduler) updatePriorities(ctx context.Context, newIndex, windowRadius int) {
	ps.mu.Lock()

	if ps.closed {
		ps.mu.Unlock()
		return
	}

	lo, hi := newIndex-windowRadius, newIndex+windowRadius

	var dropped []loadRequest
	for id, sl := range ps.queued {
		if sl.req.index < lo || sl.req.index > hi {
			heap.Remove(&ps.pq, sl.item.Slot)
			delete(ps.queued, id)
			ps.cancelled.Add(1)
			dropped = append(dropped, sl.req)
			continue
		}
		sl.item.Priority = ps.priorityFor(sl.req.index, newIndex)
		heap.Fix(&ps.pq, sl.item.Slot)
	}

	for _, fl := range ps.inflight {
		if fl.index >= lo && fl.index <= hi {
			continue
		}
		fl.cancel()
	}

	dropped = append(dropped, ps.dispatchLocked(ctx)...)
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

// cancelAll cancels every queued and in-flight request. Called on explicit
// cancellation and teardown.
func (ps *prefetchScheduler) cancelAll() {
	ps.mu.Lock()
	dropped := ps.cancelAllLocked()
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

func (ps *prefetchScheduler) cancelAllLocked() []loadRequest {
	var dropped []loadRequest
	for id, sl := range ps.queued {
		delete(ps.queued, id)
		ps.cancelled.Add(1)
		dropped = append(dropped, sl.req)
	}
	ps.pq.Items = ps.pq.Items[:0]

	for _, fl := range ps.inflight {
		fl.cancel()
	}
	return dropped
}

// cancelQueued drops every request that has not been dispatched yet.
// First step of the jump protocol.
func (ps *prefetchScheduler) cancelQueued() {
	ps.mu.Lock()
	var dropped []loadRequest
	for id, sl := range ps.queued {
		delete(ps.queued, id)
		ps.cancelled.Add(1)
		dropped = append(dropped, sl.req)
	}
	ps.pq.Items = ps.pq.Items[:0]
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

// cancelMismatched cancels in-flight decodes not targeting keep. Second step
// of the jump protocol: the old window's work must not compete with the
// priority decode for pool slots.
func (ps *prefetchScheduler) cancelMismatched(keep model.PhotoID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for id, fl := range ps.inflight {
		if id != keep {
			fl.cancel()
		}
	}
}

// setLimits applies a new concurrency cap and bias after a settings update.
// The cap is clamped to the pool size: dispatch submits while holding ps.mu,
// and a cap above the pool's queue capacity would let Submit block on the
// lock that the finishing workers need.
func (ps *prefetchScheduler) setLimits(maxInFlight int, bias float64) {
	ps.mu.Lock()
	ps.maxInFlight = min(maxInFlight, ps.pool.Size())
	ps.bias = bias
	ps.mu.Unlock()
}

// close cancels everything and refuses further work.
func (ps *prefetchScheduler) close() {
	ps.mu.Lock()
	ps.closed = true
	dropped := ps.cancelAllLocked()
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

// stats snapshots scheduler counters.
func (ps *prefetchScheduler) stats() PrefetchStats {
	ps.mu.Lock()
	active := len(ps.inflight)
	qd := len(ps.queued)
	ps.mu.Unlock()

	st := PrefetchStats{
		Total:       ps.total.Load(),
		Successful:  ps.successful.Load(),
		Failed:      ps.failed.Load(),
		Cancelled:   ps.cancelled.Load(),
		ActiveLoads: active,
		Queued:      qd,
	}
	if done := st.Successful + st.Failed; done > 0 {
		st.SuccessRate = float64(st.Successful) / float64(done)
	}
	return st
}

// dispatchLocked drains the queue into the pool while the in-flight cap
// allows. Returns requests that could not be handed to the pool. Caller
// holds ps.mu.
func (ps *prefetchScheduler) dispatchLocked(ctx context.Context) []loadRequest {
	for len(ps.inflight) < ps.maxInFlight && ps.pq.Len() > 0 {
		item, _ := heap.Pop(&ps.pq).(*queue.Item)
		id := model.PhotoID(item.ID)
		sl, ok := ps.queued[id]
		if !ok {
			continue
		}
		delete(ps.queued, id)

		loadCtx, cancel := context.WithCancel(ctx)
		ps.inflight[id] = &inflightLoad{index: sl.req.index, cancel: cancel}
		req := sl.req

		err := ps.pool.Submit(loadCtx, func(runCtx context.Context) {
			runErr := ps.run(runCtx, req)
			ps.finish(ctx, id, cancel, runErr)
		})
		if err != nil {
			// Pool closed or context gone; undo the reservation.
			cancel()
			delete(ps.inflight, id)
			ps.cancelled.Add(1)
			return []loadRequest{req}
		}
	}
	return nil
}

// finish records an outcome and pulls more work forward.
func (ps *prefetchScheduler) finish(ctx context.Context, id model.PhotoID, cancel context.CancelFunc, err error) {
	cancel()

	ps.mu.Lock()
	delete(ps.inflight, id)

	switch {
	case err == nil:
		ps.successful.Add(1)
	case IsCancellation(err):
		ps.cancelled.Add(1)
	default:
		ps.failed.Add(1)
	}

	var dropped []loadRequest
	if !ps.closed {
		dropped = ps.dispatchLocked(ctx)
	}
	ps.mu.Unlock()
	ps.abandonAll(dropped)
}

func (ps *prefetchScheduler) abandonAll(reqs []loadRequest) {
	if ps.abandon == nil {
		return
	}
	for _, req := range reqs {
		ps.abandon(req)
	}
}
