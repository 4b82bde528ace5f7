package codec

import "fmt"

// Codec compresses and decompresses pixel buffers for the cache's demotion
// tier. Decoded bitmaps are highly redundant (flat color runs, gradients),
// so block compression recovers most of their memory at a fraction of the
// cost of re-decoding the source file.
type Codec interface {
	// Name identifies the codec, e.g. for statistics.
	Name() string

	// Compress returns the encoded form of src, or nil if src did not
	// compress (callers should then keep the raw bytes instead).
	Compress(src []byte) []byte

	// Decompress inflates enc into a new buffer of exactly size bytes.
	Decompress(enc []byte, size int) ([]byte, error)
}

// Default is the codec used when none is configured.
var Default Codec = S2{}

// ErrCorrupt wraps codec-level decode failures.
type ErrCorrupt struct {
	Codec string
	cause error
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("codec %s: corrupt block", e.Codec)
}

func (e *ErrCorrupt) Unwrap() error { return e.cause }
