package model

import "fmt"

// PhotoID is the stable identity of a photo. It is independent of whether
// the photo's bytes have ever been loaded or decoded.
type PhotoID string

// PhotoRef pairs a photo's stable identity with the locator the decoder
// uses to resolve its bytes (a path, an object key, a URL, ...).
type PhotoRef struct {
	ID      PhotoID
	Locator string
}

// String returns a string representation of the PhotoRef.
func (r PhotoRef) String() string {
	return fmt.Sprintf("Photo(%s @ %s)", r.ID, r.Locator)
}

// Collection is an ordered, index-addressable sequence of photos with
// stable identity. Implementations must be safe for concurrent reads.
type Collection interface {
	// Len returns the number of photos in the collection.
	Len() int
	// At returns the photo at index i. i must be in [0, Len()).
	At(i int) PhotoRef
}

// Photos is a slice-backed Collection.
type Photos []PhotoRef

func (p Photos) Len() int          { return len(p) }
func (p Photos) At(i int) PhotoRef { return p[i] }

// bitmapOverheadBytes is the fixed per-bitmap accounting overhead added to
// the pixel buffer size when estimating resident cost.
const bitmapOverheadBytes = 256

// Bitmap is a decoded image resident in memory. Pixels are stored in NRGBA
// order, Stride bytes per row. Bitmaps are immutable once published: the
// cache and the UI share them without copying.
type Bitmap struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// EstimatedBytes returns the approximate memory cost of keeping the bitmap
// resident. Used for cache budget accounting, not exact heap measurement.
func (b *Bitmap) EstimatedBytes() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Pix)) + bitmapOverheadBytes
}
