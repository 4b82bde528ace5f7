package slidecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primelux/slidecache/model"
)

// runRecorder is a scheduler runner double: records execution order, blocks
// on an optional gate, and fails selected photos.
type runRecorder struct {
	mu    sync.Mutex
	order []string
	gate  chan struct{}
	errs  map[string]error
}

func (r *runRecorder) run(ctx context.Context, req loadRequest) error {
	r.mu.Lock()
	r.order = append(r.order, string(req.ref.ID))
	failErr := r.errs[string(req.ref.ID)]
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return failErr
}

func (r *runRecorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// abandonRecorder collects requests the scheduler dropped unrun.
type abandonRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (a *abandonRecorder) abandon(req loadRequest) {
	a.mu.Lock()
	a.ids = append(a.ids, string(req.ref.ID))
	a.mu.Unlock()
}

func (a *abandonRecorder) dropped() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

func reqsFor(photos model.Photos, indices ...int) []loadRequest {
	reqs := make([]loadRequest, 0, len(indices))
	for _, i := range indices {
		reqs = append(reqs, loadRequest{ref: photos.At(i), index: i})
	}
	return reqs
}

func testSchedSettings(concurrency int) Settings {
	s := DefaultSettings()
	s.MaxConcurrentLoads = concurrency
	s.ForwardBias = 2.0
	return s
}

func TestSchedulerForwardBiasOrdering(t *testing.T) {
	pool := NewDecodePool(1)
	defer pool.Close()

	rec := &runRecorder{}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, nil)

	photos := testPhotos(10)
	// Around index 5: forward 6 scores 0.5, backward 4 scores 1 (2:1 bias),
	// forward 7 ties 4 at 1 but loses the index tie-break, backward 3 is 2.
	ps.enqueue(context.Background(), reqsFor(photos, 3, 4, 6, 7), 5)

	require.Eventually(t, func() bool {
		return len(rec.ran()) == 4
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"p6", "p4", "p7", "p3"}, rec.ran())

	st := ps.stats()
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(4), st.Successful)
	assert.InDelta(t, 1.0, st.SuccessRate, 1e-9)
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	pool := NewDecodePool(4)
	defer pool.Close()

	gate := make(chan struct{})
	rec := &runRecorder{gate: gate}
	ps := newPrefetchScheduler(pool, testSchedSettings(2), rec.run, nil)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1, 2, 3, 4, 5), 0)

	require.Eventually(t, func() bool {
		return ps.stats().ActiveLoads == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, ps.stats().Queued)

	close(gate)

	require.Eventually(t, func() bool {
		return ps.stats().Successful == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, ps.stats().ActiveLoads)
}

func TestSchedulerSkipsInflightDuplicates(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	gate := make(chan struct{})
	rec := &runRecorder{gate: gate}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, nil)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1), 0)

	require.Eventually(t, func() bool {
		return len(rec.ran()) == 1
	}, time.Second, 5*time.Millisecond)

	// Same photo again while its decode is in flight: no second run.
	ps.enqueue(context.Background(), reqsFor(photos, 1), 0)
	close(gate)

	require.Eventually(t, func() bool {
		return ps.stats().Successful == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p1"}, rec.ran())
	assert.Equal(t, int64(1), ps.stats().Total)
}

func TestSchedulerAbandonsReplannedInflight(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	gate := make(chan struct{})
	defer close(gate)
	rec := &runRecorder{gate: gate}
	ab := &abandonRecorder{}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, ab.abandon)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1), 0)

	require.Eventually(t, func() bool {
		return len(rec.ran()) == 1
	}, time.Second, 5*time.Millisecond)

	// A recompute reissued the photo while its decode is still in flight
	// (the cache has already re-marked it pending). The duplicate cannot be
	// queued, so it must come back through abandon; swallowing it would
	// leave the pending mark masking every later recompute.
	ps.enqueue(context.Background(), reqsFor(photos, 1), 0)

	assert.Equal(t, []string{"p1"}, ab.dropped())
	assert.Equal(t, []string{"p1"}, rec.ran())
}

func TestSchedulerCapClampedToPoolSize(t *testing.T) {
	pool := NewDecodePool(1)
	defer pool.Close()

	gate := make(chan struct{})
	rec := &runRecorder{gate: gate}
	// Nominal cap far above the single worker: dispatch must not outrun the
	// pool, or Submit would block holding the scheduler lock.
	ps := newPrefetchScheduler(pool, testSchedSettings(8), rec.run, nil)

	photos := testPhotos(30)
	indices := make([]int, 0, 21)
	for i := 1; i <= 21; i++ {
		indices = append(indices, i)
	}
	ps.enqueue(context.Background(), reqsFor(photos, indices...), 0)

	require.Eventually(t, func() bool {
		return ps.stats().ActiveLoads == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 20, ps.stats().Queued)

	// Raising the cap later is clamped the same way.
	ps.setLimits(16, 2.0)
	close(gate)

	require.Eventually(t, func() bool {
		return ps.stats().Successful == 21
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerCancelAll(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	gate := make(chan struct{})
	defer close(gate)
	rec := &runRecorder{gate: gate}
	ab := &abandonRecorder{}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, ab.abandon)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1, 2, 3), 0)

	require.Eventually(t, func() bool {
		return ps.stats().ActiveLoads == 1
	}, time.Second, 5*time.Millisecond)

	ps.cancelAll()

	// Two queued requests dropped unrun, one in-flight cancelled mid-decode.
	require.Eventually(t, func() bool {
		return ps.stats().Cancelled == 3
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"p2", "p3"}, ab.dropped())
	assert.Equal(t, int64(0), ps.stats().Successful)
}

func TestSchedulerUpdatePrioritiesCancelsOutOfWindow(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	gate := make(chan struct{})
	defer close(gate)
	rec := &runRecorder{gate: gate}
	ab := &abandonRecorder{}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, ab.abandon)

	photos := testPhotos(100)
	ps.enqueue(context.Background(), reqsFor(photos, 1, 2, 3), 0)

	require.Eventually(t, func() bool {
		return ps.stats().ActiveLoads == 1
	}, time.Second, 5*time.Millisecond)

	// Jump far away: everything outstanding is outside the new window.
	ps.updatePriorities(context.Background(), 50, 5)

	require.Eventually(t, func() bool {
		return ps.stats().Cancelled == 3
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"p2", "p3"}, ab.dropped())
}

func TestSchedulerUpdatePrioritiesReranks(t *testing.T) {
	pool := NewDecodePool(1)
	defer pool.Close()

	gate := make(chan struct{})
	rec := &runRecorder{gate: gate}
	ps := newPrefetchScheduler(pool, testSchedSettings(1), rec.run, nil)

	photos := testPhotos(20)
	// p5 dispatches first (closest forward of 4) and blocks on the gate;
	// p6..p8 stay queued.
	ps.enqueue(context.Background(), reqsFor(photos, 5, 6, 7, 8), 4)

	require.Eventually(t, func() bool {
		return len(rec.ran()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"p5"}, rec.ran())

	// Navigation moved to 8: the queue order must flip.
	ps.updatePriorities(context.Background(), 8, 5)
	close(gate)

	require.Eventually(t, func() bool {
		return len(rec.ran()) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p5", "p8", "p7", "p6"}, rec.ran())
}

func TestSchedulerCancelMismatchedKeepsTarget(t *testing.T) {
	pool := NewDecodePool(4)
	defer pool.Close()

	gate := make(chan struct{})
	rec := &runRecorder{gate: gate}
	ps := newPrefetchScheduler(pool, testSchedSettings(2), rec.run, nil)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1, 2), 0)

	require.Eventually(t, func() bool {
		return ps.stats().ActiveLoads == 2
	}, time.Second, 5*time.Millisecond)

	ps.cancelMismatched(photos.At(1).ID)
	close(gate)

	require.Eventually(t, func() bool {
		st := ps.stats()
		return st.Successful == 1 && st.Cancelled == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerFailureCounting(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	rec := &runRecorder{errs: map[string]error{"p2": errors.New("decode failed")}}
	ps := newPrefetchScheduler(pool, testSchedSettings(2), rec.run, nil)

	photos := testPhotos(10)
	ps.enqueue(context.Background(), reqsFor(photos, 1, 2), 0)

	require.Eventually(t, func() bool {
		st := ps.stats()
		return st.Successful == 1 && st.Failed == 1
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.5, ps.stats().SuccessRate, 1e-9)
}

func TestSchedulerCloseRefusesWork(t *testing.T) {
	pool := NewDecodePool(2)
	defer pool.Close()

	rec := &runRecorder{}
	ab := &abandonRecorder{}
	ps := newPrefetchScheduler(pool, testSchedSettings(2), rec.run, ab.abandon)

	ps.close()

	photos := testPhotos(5)
	ps.enqueue(context.Background(), reqsFor(photos, 1), 0)

	// Rejected work is abandoned so the cache can forget it.
	assert.Equal(t, []string{"p1"}, ab.dropped())
	assert.Empty(t, rec.ran())
}
