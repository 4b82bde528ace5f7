// Package slidecache provides adaptive image loading and caching for
// slideshow navigation over very large photo collections.
//
// It keeps a bounded window of decoded images resident around the current
// position, prefetches in the direction of travel, and preempts all
// background work for latency-critical loads (first image, progress-bar
// jumps), without unbounded memory growth or UI stalls.
//
// # Quick Start
//
//	store := photostore.NewLocalStore("/photos/vacation")
//	dec := decoder.NewStoreDecoder(store)
//	loader, _ := slidecache.New(dec)
//	defer loader.Close()
//
//	photos := model.Photos{{ID: "a", Locator: "a.jpg"}, {ID: "b", Locator: "b.jpg"}}
//
//	// First image, before any window exists:
//	handle := loader.HandleFirstImageLoad(ctx, photos.At(0))
//	res := <-handle.Result()
//
//	// Navigation:
//	loader.LoadImageWindow(ctx, photos, 1)
//	img := loader.GetImage(photos.At(1).ID) // nil until decoded
//
//	// Jump far away; everything in flight is preempted:
//	handle, _ = loader.HandleProgressBarJump(ctx, photos, 9000)
//
// # Residency Model
//
// Navigation recomputes the window [index-r, index+r]. Misses are decoded in
// forward-biased priority order on a bounded worker pool. Under memory
// pressure the farthest, least-recently-used entries are evicted first; the
// current photo never is. Recently evicted bitmaps are demoted to a
// compressed in-memory tier and rehydrated instead of re-decoded when the
// user reverses direction.
//
// # Completion Delivery
//
// Background completions fire the callback installed with
// SetImageLoadedCallback. Priority loads additionally deliver exactly one
// result on their handle's channel. Cancelled loads are silent: superseded
// and out-of-window work is never reported as failure.
//
// # Key Features
//
//   - Bounded resident memory with evict-before-admit
//   - Forward-biased, re-rankable prefetch ordering
//   - Last-jump-wins preemptive priority loads
//   - One in-flight decode per photo, however paths race
//   - Compressed demotion tier for direction reversals
//   - Pluggable byte sources (memory, local mmap, S3, MinIO)
package slidecache
