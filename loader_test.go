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

func testLoaderSettings() Settings {
	return Settings{
		WindowSize:               2,
		MaxMemoryMB:              64,
		MaxConcurrentLoads:       2,
		LargeCollectionThreshold: 5000,
		PreloadDistance:          2,
		ForwardBias:              2.0,
		MaxRetries:               1,
	}
}

func newTestLoader(t *testing.T, dec *fakeDecoder, s Settings) *Loader {
	t.Helper()
	l, err := New(dec, WithSettings(s))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// cbEvent is one ImageLoadedCallback invocation.
type cbEvent struct {
	id  model.PhotoID
	ok  bool
	err error
}

type cbRecorder struct {
	mu     sync.Mutex
	events []cbEvent
}

func (r *cbRecorder) callback(id model.PhotoID, img *model.Bitmap, err error) {
	r.mu.Lock()
	r.events = append(r.events, cbEvent{id: id, ok: img != nil, err: err})
	r.mu.Unlock()
}

func (r *cbRecorder) forPhoto(id model.PhotoID) []cbEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cbEvent
	for _, e := range r.events {
		if e.id == id {
			out = append(out, e)
		}
	}
	return out
}

func TestLoaderRequiresDecoder(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestLoaderFirstImageLoad(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())

	rec := &cbRecorder{}
	l.SetImageLoadedCallback(rec.callback)

	photos := testPhotos(5)
	handle := l.HandleFirstImageLoad(context.Background(), photos.At(0))

	res, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Image)

	// The image is resident before the result is observable.
	assert.NotNil(t, l.GetImage(photos.At(0).ID))
	assert.Len(t, rec.forPhoto(photos.At(0).ID), 1)
}

func TestLoaderWindowEventuallyResident(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())

	photos := testPhotos(10)
	for i := 0; i < photos.Len(); i++ {
		require.NoError(t, l.LoadImageWindow(context.Background(), photos, i))

		id := photos.At(i).ID
		require.Eventually(t, func() bool {
			return l.GetImage(id) != nil
		}, 2*time.Second, time.Millisecond, "photo %s never became resident", id)
	}
}

func TestLoaderIdempotentWindowIssuesNoNewDecodes(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())

	photos := testPhotos(10)
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))

	require.Eventually(t, func() bool {
		return l.CacheStatistics().LoadedCount == 5 // window 1..5
	}, 2*time.Second, time.Millisecond)

	before := dec.totalCalls()
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, dec.totalCalls())
}

func TestLoaderSingleDecodePerPhoto(t *testing.T) {
	dec := newFakeDecoder()
	gate := make(chan struct{})
	dec.setGate(gate)

	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(10)

	// Hammer the same window while all decodes are blocked.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	}
	close(gate)

	require.Eventually(t, func() bool {
		return l.CacheStatistics().LoadedCount == 5
	}, 2*time.Second, time.Millisecond)

	for i := 1; i <= 5; i++ {
		assert.LessOrEqual(t, dec.callCount(photos.At(i).ID), 1, "photo p%d decoded more than once", i)
	}
}

func TestLoaderInvalidIndex(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(3)

	assert.ErrorIs(t, l.LoadImageWindow(context.Background(), photos, -1), ErrInvalidIndex)
	assert.ErrorIs(t, l.LoadImageWindow(context.Background(), photos, 3), ErrInvalidIndex)
	_, err := l.HandleProgressBarJump(context.Background(), photos, 99)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestLoaderJumpScenario(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())

	rec := &cbRecorder{}
	l.SetImageLoadedCallback(rec.callback)

	// 5 photos, window 2, jump from 0 to 4.
	photos := testPhotos(5)
	first := l.HandleFirstImageLoad(context.Background(), photos.At(0))
	res, err := first.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 0))

	handle, err := l.HandleProgressBarJump(context.Background(), photos, 4)
	require.NoError(t, err)
	res, err = handle.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)

	// Target resident the moment the priority result lands.
	assert.NotNil(t, l.GetImage(photos.At(4).ID))

	// Asynchronous rebuild fills the rest of the new window.
	require.Eventually(t, func() bool {
		return l.GetImage(photos.At(2).ID) != nil && l.GetImage(photos.At(3).ID) != nil
	}, 2*time.Second, time.Millisecond)
}

func TestLoaderLastJumpWins(t *testing.T) {
	dec := newFakeDecoder()
	gate := make(chan struct{})
	dec.setGate(gate)

	l := newTestLoader(t, dec, testLoaderSettings())

	rec := &cbRecorder{}
	l.SetImageLoadedCallback(rec.callback)

	photos := testPhotos(100)

	h10, err := l.HandleProgressBarJump(context.Background(), photos, 10)
	require.NoError(t, err)
	h50, err := l.HandleProgressBarJump(context.Background(), photos, 50)
	require.NoError(t, err)
	close(gate)

	res10, err := h10.Wait(context.Background())
	require.NoError(t, err)
	res50, err := h50.Wait(context.Background())
	require.NoError(t, err)

	// Only the newest jump reports success; the superseded one is a
	// cancellation, never a failure.
	require.NoError(t, res50.Err)
	require.Error(t, res10.Err)
	assert.True(t, IsCancellation(res10.Err))

	assert.NotNil(t, l.GetImage(photos.At(50).ID))
	assert.Nil(t, l.GetImage(photos.At(10).ID))

	// The cancelled jump never fires the UI callback.
	assert.Empty(t, rec.forPhoto(photos.At(10).ID))
	require.Eventually(t, func() bool {
		return len(rec.forPhoto(photos.At(50).ID)) == 1
	}, 2*time.Second, time.Millisecond)
}

func TestLoaderFailureRetriedOnceThenPermanent(t *testing.T) {
	dec := newFakeDecoder()
	decodeErr := errors.New("corrupt file")

	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(10)
	dec.failWith(photos.At(3).ID, decodeErr)

	rec := &cbRecorder{}
	l.SetImageLoadedCallback(rec.callback)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	require.Eventually(t, func() bool {
		return len(rec.forPhoto(photos.At(3).ID)) == 1
	}, 2*time.Second, time.Millisecond)

	events := rec.forPhoto(photos.At(3).ID)
	assert.ErrorIs(t, events[0].err, decodeErr)
	assert.ErrorIs(t, l.LoadError(photos.At(3).ID), decodeErr)

	// Re-entering the window retries once.
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	require.Eventually(t, func() bool {
		return dec.callCount(photos.At(3).ID) == 2
	}, 2*time.Second, time.Millisecond)

	// After the retry budget: permanent miss, no further decode attempts.
	require.Eventually(t, func() bool {
		return len(rec.forPhoto(photos.At(3).ID)) == 2
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, dec.callCount(photos.At(3).ID))
}

func TestLoaderCancelAllPreloads(t *testing.T) {
	dec := newFakeDecoder()
	gate := make(chan struct{})
	defer close(gate)
	dec.setGate(gate)

	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(10)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	l.CancelAllPreloads()

	require.Eventually(t, func() bool {
		st := l.PrefetchStatistics()
		return st.ActiveLoads == 0 && st.Queued == 0
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(0), l.PrefetchStatistics().Successful)
}

func TestLoaderClearCache(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(10)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	require.Eventually(t, func() bool {
		return l.CacheStatistics().LoadedCount == 5
	}, 2*time.Second, time.Millisecond)

	l.ClearCache()

	st := l.CacheStatistics()
	assert.Equal(t, 0, st.LoadedCount)
	assert.Equal(t, 0.0, st.MemoryUsageMB)
	assert.Nil(t, l.GetImage(photos.At(3).ID))
}

func TestLoaderUpdateSettingsRollsEpoch(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())

	before := l.CacheStatistics().Epoch
	s := l.Settings()
	s.WindowSize = 1
	l.UpdateSettings(s)

	assert.Greater(t, l.CacheStatistics().Epoch, before)
	assert.Equal(t, 1, l.Settings().WindowSize)
}

func TestLoaderSettingsDowngradeKeepsCurrent(t *testing.T) {
	dec := newFakeDecoder()
	dec.pixBytes = 300_000

	s := testLoaderSettings()
	s.MaxMemoryMB = 4
	l := newTestLoader(t, dec, s)
	photos := testPhotos(10)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	require.Eventually(t, func() bool {
		return l.CacheStatistics().LoadedCount == 5
	}, 2*time.Second, time.Millisecond)

	down := s
	down.MaxMemoryMB = 1
	l.UpdateSettings(down)

	assert.LessOrEqual(t, l.CacheStatistics().MemoryUsageMB, 1.0)
	assert.NotNil(t, l.GetImage(photos.At(3).ID), "current photo survives the downgrade")
}

func TestLoaderIsLoading(t *testing.T) {
	dec := newFakeDecoder()
	gate := make(chan struct{})
	dec.setGate(gate)

	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(5)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 0))
	assert.True(t, l.IsLoading(photos.At(0).ID))

	close(gate)
	require.Eventually(t, func() bool {
		return !l.IsLoading(photos.At(0).ID) && l.GetImage(photos.At(0).ID) != nil
	}, 2*time.Second, time.Millisecond)
}

func TestLoaderClosed(t *testing.T) {
	dec := newFakeDecoder()
	l, err := New(dec)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close()) // idempotent

	photos := testPhotos(5)
	assert.ErrorIs(t, l.LoadImageWindow(context.Background(), photos, 0), ErrClosed)
	assert.ErrorIs(t, l.SchedulePreload(context.Background(), photos, 0), ErrClosed)
	assert.ErrorIs(t, l.UpdatePriorities(photos, 0), ErrClosed)

	_, err = l.HandleProgressBarJump(context.Background(), photos, 0)
	assert.ErrorIs(t, err, ErrClosed)

	handle := l.HandleFirstImageLoad(context.Background(), photos.At(0))
	res := <-handle.Result()
	assert.ErrorIs(t, res.Err, ErrClosed)
}

func TestLoaderRaisedConcurrencyDoesNotStall(t *testing.T) {
	dec := newFakeDecoder()

	s := testLoaderSettings()
	s.WindowSize = 10 // 21 misses per recompute, far above the pool
	l := newTestLoader(t, dec, s)

	up := s
	up.MaxConcurrentLoads = 16
	l.UpdateSettings(up)

	photos := testPhotos(60)
	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 30))

	require.Eventually(t, func() bool {
		return l.GetImage(photos.At(30).ID) != nil
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return l.CacheStatistics().LoadedCount == 21
	}, 2*time.Second, time.Millisecond)
}

func TestLoaderFirstImageSurvivesSecondPriorityLoad(t *testing.T) {
	dec := newFakeDecoder()
	dec.pixBytes = 700_000

	s := testLoaderSettings()
	s.MaxMemoryMB = 1
	l := newTestLoader(t, dec, s)
	photos := testPhotos(10)

	first := l.HandleFirstImageLoad(context.Background(), photos.At(0))
	res, err := first.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)

	// A second priority load before any window recompute puts the cache over
	// budget; the photo on screen must not be the victim.
	second := l.HandleFirstImageLoad(context.Background(), photos.At(5))
	res, err = second.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.NotNil(t, l.GetImage(photos.At(0).ID), "first shown photo must stay resident")
}

func TestLoaderPrefetchStatistics(t *testing.T) {
	dec := newFakeDecoder()
	l := newTestLoader(t, dec, testLoaderSettings())
	photos := testPhotos(10)

	require.NoError(t, l.LoadImageWindow(context.Background(), photos, 3))
	require.Eventually(t, func() bool {
		return l.PrefetchStatistics().Successful == 5
	}, 2*time.Second, time.Millisecond)

	st := l.PrefetchStatistics()
	assert.Equal(t, int64(5), st.Total)
	assert.InDelta(t, 1.0, st.SuccessRate, 1e-9)
}
