package slidecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/primelux/slidecache/model"
)

// fakeDecoder is a controllable decoder double: per-photo failures, fixed
// latency, an optional gate that blocks decodes until released, and call
// counting.
type fakeDecoder struct {
	mu       sync.Mutex
	pixBytes int
	delay    time.Duration
	fail     map[model.PhotoID]error
	gate     chan struct{}
	calls    map[model.PhotoID]int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		pixBytes: 1 << 10,
		fail:     make(map[model.PhotoID]error),
		calls:    make(map[model.PhotoID]int),
	}
}

func (d *fakeDecoder) failWith(id model.PhotoID, err error) {
	d.mu.Lock()
	d.fail[id] = err
	d.mu.Unlock()
}

func (d *fakeDecoder) setGate(gate chan struct{}) {
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}

func (d *fakeDecoder) callCount(id model.PhotoID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func (d *fakeDecoder) totalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func (d *fakeDecoder) Decode(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error) {
	d.mu.Lock()
	d.calls[ref.ID]++
	failErr := d.fail[ref.ID]
	gate := d.gate
	delay := d.delay
	n := d.pixBytes
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}
	return testBitmap(n), nil
}

// testBitmap builds a bitmap whose pixel buffer is n bytes.
func testBitmap(n int) *model.Bitmap {
	return &model.Bitmap{Width: n / 4, Height: 1, Stride: n, Pix: make([]byte, n)}
}

// testPhotos builds a collection p0..p<n-1>.
func testPhotos(n int) model.Photos {
	photos := make(model.Photos, n)
	for i := range photos {
		id := model.PhotoID(fmt.Sprintf("p%d", i))
		photos[i] = model.PhotoRef{ID: id, Locator: string(id) + ".jpg"}
	}
	return photos
}
