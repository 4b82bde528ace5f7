package slidecache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/primelux/slidecache/model"
)

type entryState uint8

const (
	statePending entryState = iota
	stateLoaded
	stateFailed
)

// cacheEntry tracks one photo's decode lifecycle. Entries are created on
// first reference, move pending -> loaded|failed, and leave the map on
// eviction, clear, or cancellation.
type cacheEntry struct {
	ref        model.PhotoRef
	index      int // position in the collection; -1 until a window covers it
	state      entryState
	img        *model.Bitmap
	bytes      int64
	lastAccess uint64
	epoch      uint64
	attempts   int
	err        error
}

// loadRequest is a decode the cache wants performed. The epoch stamp lets
// completions that outlived a settings change or clear be ignored.
type loadRequest struct {
	ref   model.PhotoRef
	index int
	epoch uint64
}

// windowCache is the bounded map of photo id -> decoded image. It owns all
// residency state exclusively; other components interact with it only through
// its methods, receiving immutable data back.
//
// Index sets are kept in roaring bitmaps so the window diff on every
// navigation is a couple of bitmap operations instead of a map walk.
type windowCache struct {
	mu sync.Mutex

	entries map[model.PhotoID]*cacheEntry

	resident   *roaring.Bitmap // indices with a loaded bitmap
	pendingIdx *roaring.Bitmap // indices with a decode in flight
	permMiss   *roaring.Bitmap // indices past the retry budget

	settings Settings
	epoch    uint64

	currentIndex int
	currentID    model.PhotoID

	usedBytes int64
	accessSeq uint64

	cold *ColdTier

	hits   atomic.Int64
	misses atomic.Int64

	logger  *Logger
	metrics MetricsCollector
}

func newWindowCache(s Settings, cold *ColdTier, logger *Logger, metrics MetricsCollector) *windowCache {
	return &windowCache{
		entries:      make(map[model.PhotoID]*cacheEntry),
		resident:     roaring.New(),
		pendingIdx:   roaring.New(),
		permMiss:     roaring.New(),
		settings:     s,
		currentIndex: -1,
		cold:         cold,
		logger:       logger,
		metrics:      metrics,
	}
}

// plan recomputes the window [index-radius, index+radius] and returns the
// decodes needed to fill it. It marks the returned requests pending, so
// calling plan again before they complete issues nothing for them. Repeating
// plan over a fully resident window returns an empty slice.
func (c *windowCache) plan(photos model.Collection, index, radius int) (reqs []loadRequest, lo, hi int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentIndex = index
	c.currentID = photos.At(index).ID

	lo = max(0, index-radius)
	hi = min(photos.Len()-1, index+radius)

	// Window diff: wanted indices minus everything already accounted for.
	want := roaring.New()
	want.AddRange(uint64(lo), uint64(hi)+1)
	want.AndNot(c.resident)
	want.AndNot(c.pendingIdx)
	want.AndNot(c.permMiss)

	it := want.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		ref := photos.At(i)

		e, ok := c.entries[ref.ID]
		if !ok {
			e = &cacheEntry{ref: ref, index: i, state: statePending, epoch: c.epoch}
			c.entries[ref.ID] = e
			c.pendingIdx.Add(uint32(i))
			reqs = append(reqs, loadRequest{ref: ref, index: i, epoch: c.epoch})
			continue
		}

		switch e.state {
		case stateLoaded:
			// Adopted out of band (priority path) before any window covered
			// it. Fix its index so eviction distance works.
			e.index = i
			c.resident.Add(uint32(i))
		case statePending:
			// In flight under an index the bitmaps have not seen.
			e.index = i
			c.pendingIdx.Add(uint32(i))
		case stateFailed:
			if e.attempts > c.settings.MaxRetries {
				c.permMiss.Add(uint32(i))
				continue
			}
			// Back in range: spend one retry.
			e.state = statePending
			e.epoch = c.epoch
			e.index = i
			c.pendingIdx.Add(uint32(i))
			reqs = append(reqs, loadRequest{ref: ref, index: i, epoch: c.epoch})
		}
	}

	c.evictLocked(c.settings.budgetBytes())

	return reqs, lo, hi
}

// setCurrent moves the current position without recomputing the window.
// Eviction distance and the never-evict-current rule follow it immediately.
func (c *windowCache) setCurrent(id model.PhotoID, index int) {
	c.mu.Lock()
	c.currentID = id
	c.currentIndex = index
	c.mu.Unlock()
}

// setInitial records the first shown photo as current when nothing is
// current yet. Until a window recompute assigns real positions, this keeps
// the photo on screen out of the eviction victim set.
func (c *windowCache) setInitial(id model.PhotoID) {
	c.mu.Lock()
	if c.currentID == "" && c.currentIndex < 0 {
		c.currentID = id
	}
	c.mu.Unlock()
}

// adopt installs an already decoded bitmap, used by the priority path where
// the decode happened outside the prefetch flow. Evicts before admitting.
func (c *windowCache) adopt(ref model.PhotoRef, index int, bm *model.Bitmap) {
	bytes := bm.EstimatedBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[ref.ID]; ok {
		switch old.state {
		case stateLoaded:
			c.dropLocked(old)
		case statePending:
			// A background decode for the same photo is in flight; its
			// completion will find the entry replaced and be dropped.
			if old.index >= 0 {
				c.pendingIdx.Remove(uint32(old.index))
			}
			delete(c.entries, ref.ID)
		default:
			delete(c.entries, ref.ID)
		}
	}

	c.evictLocked(c.settings.budgetBytes() - bytes)

	c.accessSeq++
	e := &cacheEntry{
		ref:        ref,
		index:      index,
		state:      stateLoaded,
		img:        bm,
		bytes:      bytes,
		lastAccess: c.accessSeq,
		epoch:      c.epoch,
	}
	c.entries[ref.ID] = e
	c.usedBytes += bytes
	if index >= 0 {
		c.resident.Add(uint32(index))
		c.pendingIdx.Remove(uint32(index))
		c.permMiss.Remove(uint32(index))
	}
}

// complete applies a finished decode. Stale completions (epoch rolled over,
// entry cleared, or no longer pending) are dropped, never applied.
// Cancellations remove the entry entirely so a later window recompute can
// reissue the load without burning a retry.
//
// The returned bool reports whether the completion was applied; the facade
// only fires the UI callback for applied completions.
func (c *windowCache) complete(id model.PhotoID, epoch uint64, bm *model.Bitmap, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.state != statePending || e.epoch != epoch {
		return false
	}
	if epoch != c.epoch {
		// Issued under an older configuration. The pending mark goes with
		// the result, so the next plan reissues under the live epoch.
		if e.index >= 0 {
			c.pendingIdx.Remove(uint32(e.index))
		}
		delete(c.entries, id)
		return false
	}

	if e.index >= 0 {
		c.pendingIdx.Remove(uint32(e.index))
	}

	if err != nil {
		if IsCancellation(err) {
			delete(c.entries, id)
			return false
		}
		e.state = stateFailed
		e.err = err
		e.img = nil
		e.attempts++
		if e.attempts > c.settings.MaxRetries && e.index >= 0 {
			c.permMiss.Add(uint32(e.index))
		}
		return true
	}

	bytes := bm.EstimatedBytes()
	c.evictLocked(c.settings.budgetBytes() - bytes)

	// Eviction could not make room (the rest of the budget is held by the
	// current photo). Refuse the admit instead of breaching the budget; the
	// entry is forgotten so a later recompute can try again.
	if c.usedBytes+bytes > c.settings.budgetBytes() && id != c.currentID {
		delete(c.entries, id)
		return false
	}

	c.accessSeq++
	e.state = stateLoaded
	e.img = bm
	e.bytes = bytes
	e.err = nil
	e.lastAccess = c.accessSeq
	c.usedBytes += bytes
	if e.index >= 0 {
		c.resident.Add(uint32(e.index))
	}
	return true
}

// get returns the resident bitmap for id, or nil. Counts hit/miss.
func (c *windowCache) get(id model.PhotoID) *model.Bitmap {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && e.state == stateLoaded {
		c.accessSeq++
		e.lastAccess = c.accessSeq
		img := e.img
		c.mu.Unlock()
		c.hits.Add(1)
		return img
	}
	c.mu.Unlock()
	c.misses.Add(1)
	return nil
}

// isLoading reports whether a decode for id is in flight.
func (c *windowCache) isLoading(id model.PhotoID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.state == statePending
}

// failure returns the recorded error for a failed entry.
func (c *windowCache) failure(id model.PhotoID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && e.state == stateFailed {
		return e.err
	}
	return nil
}

// clear drops all entries and rolls the epoch so in-flight completions land
// stale. Used on folder change.
func (c *windowCache) clear() {
	c.mu.Lock()
	c.entries = make(map[model.PhotoID]*cacheEntry)
	c.resident.Clear()
	c.pendingIdx.Clear()
	c.permMiss.Clear()
	c.usedBytes = 0
	c.currentIndex = -1
	c.currentID = ""
	c.epoch++
	c.mu.Unlock()

	c.cold.Clear()
}

// updateSettings starts a new epoch and immediately enforces the new budget.
// Entries created under older epochs become preferred eviction victims.
func (c *windowCache) updateSettings(s Settings) uint64 {
	s = s.normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = s
	c.epoch++
	c.permMiss.Clear() // retry budget resets with the configuration
	c.evictLocked(s.budgetBytes())
	return c.epoch
}

// currentEpoch returns the live configuration generation.
func (c *windowCache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// currentSettings returns the live settings value.
func (c *windowCache) currentSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// stats snapshots cache counters.
func (c *windowCache) stats() CacheStats {
	c.mu.Lock()
	loaded := int(c.resident.GetCardinality())
	pending := 0
	for _, e := range c.entries {
		if e.state == statePending {
			pending++
		}
		if e.state == stateLoaded && e.index < 0 {
			loaded++ // adopted entries not yet covered by a window
		}
	}
	used := c.usedBytes
	epoch := c.epoch
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	st := CacheStats{
		Hits:          hits,
		Misses:        misses,
		LoadedCount:   loaded,
		PendingCount:  pending,
		MemoryUsageMB: float64(used) / (1 << 20),
		ColdEntries:   c.cold.Len(),
		Epoch:         epoch,
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// memoryUsage returns the estimated resident bytes.
func (c *windowCache) memoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// evictLocked evicts loaded entries until usedBytes <= allowance. The entry
// for the current index is never a victim, so a single oversized decode can
// leave usage above budget by at most that one decode unit.
//
// Victim order: stale-epoch entries first, then farthest from the current
// index, ties broken least-recently-accessed. Victims still inside the
// keep-range are demoted to the cold tier instead of dropped outright.
func (c *windowCache) evictLocked(allowance int64) {
	if c.usedBytes <= allowance {
		return
	}

	var victims []*cacheEntry
	for _, e := range c.entries {
		if e.state != stateLoaded || e.ref.ID == c.currentID {
			continue
		}
		victims = append(victims, e)
	}

	liveEpoch := c.epoch
	cur := c.currentIndex
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		aStale, bStale := a.epoch != liveEpoch, b.epoch != liveEpoch
		if aStale != bStale {
			return aStale
		}
		ad, bd := distance(a.index, cur), distance(b.index, cur)
		if ad != bd {
			return ad > bd
		}
		return a.lastAccess < b.lastAccess
	})

	keep := c.settings.keepRadius()
	evicted, demoted := 0, 0
	var freed int64
	for _, e := range victims {
		if c.usedBytes <= allowance {
			break
		}
		if distance(e.index, cur) <= keep {
			if c.cold.Put(e.ref.ID, e.img) {
				demoted++
			}
		}
		freed += e.bytes
		evicted++
		c.dropLocked(e)
	}

	if evicted > 0 {
		c.logger.LogEviction(context.Background(), evicted, freed, demoted)
		c.metrics.RecordEviction(evicted, freed)
	}
}

// dropLocked removes a loaded entry and its accounting.
func (c *windowCache) dropLocked(e *cacheEntry) {
	c.usedBytes -= e.bytes
	if e.index >= 0 {
		c.resident.Remove(uint32(e.index))
	}
	delete(c.entries, e.ref.ID)
}

// distance is index distance, with unknown positions treated as infinitely
// far so adopted-but-uncovered entries go first under pressure.
func distance(index, current int) int {
	if index < 0 || current < 0 {
		return int(^uint(0) >> 1)
	}
	d := index - current
	if d < 0 {
		return -d
	}
	return d
}
