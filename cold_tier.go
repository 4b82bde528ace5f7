package slidecache

import (
	"sync"

	"github.com/primelux/slidecache/codec"
	"github.com/primelux/slidecache/model"
)

// coldEntry is a demoted bitmap: pixels compressed, dimensions kept so the
// bitmap can be rebuilt without touching the decoder.
type coldEntry struct {
	enc    []byte
	width  int
	height int
	stride int
	pixLen int
	seq    uint64 // admission order, for oldest-first trimming
}

// ColdTier holds recently evicted bitmaps in compressed form. Rehydrating
// from the tier is a decompress, which is far cheaper than re-reading and
// re-decoding the source file when the user reverses direction.
//
// The tier is purely in-memory and bounded by its own byte budget,
// independent of the resident-cache budget.
type ColdTier struct {
	mu      sync.Mutex
	c       codec.Codec
	budget  int64
	used    int64
	nextSeq uint64
	entries map[model.PhotoID]*coldEntry
}

// NewColdTier creates a tier using the given codec and byte budget.
// A nil codec selects codec.Default. budget <= 0 disables the tier.
func NewColdTier(c codec.Codec, budget int64) *ColdTier {
	if c == nil {
		c = codec.Default
	}
	return &ColdTier{
		c:       c,
		budget:  budget,
		entries: make(map[model.PhotoID]*coldEntry),
	}
}

// Put demotes a bitmap into the tier, trimming oldest entries to stay under
// budget. Returns false when the tier is disabled, the pixels are
// incompressible, or the compressed form alone exceeds the budget.
func (t *ColdTier) Put(id model.PhotoID, bm *model.Bitmap) bool {
	if t == nil || t.budget <= 0 || bm == nil || len(bm.Pix) == 0 {
		return false
	}

	enc := t.c.Compress(bm.Pix)
	if enc == nil {
		return false
	}
	cost := int64(len(enc))
	if cost > t.budget {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[id]; ok {
		t.used -= int64(len(old.enc))
		delete(t.entries, id)
	}

	for t.used+cost > t.budget {
		t.dropOldestLocked()
	}

	t.nextSeq++
	t.entries[id] = &coldEntry{
		enc:    enc,
		width:  bm.Width,
		height: bm.Height,
		stride: bm.Stride,
		pixLen: len(bm.Pix),
		seq:    t.nextSeq,
	}
	t.used += cost
	return true
}

// Take removes and rehydrates the entry for id. A corrupt entry is dropped
// and reported as absent; the caller falls back to a full decode.
func (t *ColdTier) Take(id model.PhotoID) (*model.Bitmap, bool) {
	if t == nil {
		return nil, false
	}

	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.used -= int64(len(e.enc))
	}
	t.mu.Unlock()

	if !ok {
		return nil, false
	}

	pix, err := t.c.Decompress(e.enc, e.pixLen)
	if err != nil {
		return nil, false
	}
	return &model.Bitmap{
		Width:  e.width,
		Height: e.height,
		Stride: e.stride,
		Pix:    pix,
	}, true
}

// Drop removes the entry for id without rehydrating it.
func (t *ColdTier) Drop(id model.PhotoID) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		t.used -= int64(len(e.enc))
		delete(t.entries, id)
	}
	t.mu.Unlock()
}

// Clear drops everything.
func (t *ColdTier) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.entries = make(map[model.PhotoID]*coldEntry)
	t.used = 0
	t.mu.Unlock()
}

// Len returns the number of demoted entries.
func (t *ColdTier) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Bytes returns the compressed bytes currently held.
func (t *ColdTier) Bytes() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *ColdTier) dropOldestLocked() {
	var oldest model.PhotoID
	var oldestSeq uint64
	first := true
	for id, e := range t.entries {
		if first || e.seq < oldestSeq {
			oldest, oldestSeq, first = id, e.seq, false
		}
	}
	if first {
		return
	}
	t.used -= int64(len(t.entries[oldest].enc))
	delete(t.entries, oldest)
}
