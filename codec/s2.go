package codec

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2 compresses pixel buffers with the s2 block format. It is the default:
// decompression runs at memory-bandwidth speeds, which keeps rehydration
// from the demotion tier far cheaper than a fresh decode.
type S2 struct{}

// Name implements Codec.
func (S2) Name() string { return "s2" }

// Compress implements Codec.
func (S2) Compress(src []byte) []byte {
	enc := s2.Encode(nil, src)
	if len(enc) >= len(src) {
		return nil
	}
	return enc
}

// Decompress implements Codec.
func (S2) Decompress(enc []byte, size int) ([]byte, error) {
	out, err := s2.Decode(make([]byte, 0, size), enc)
	if err != nil {
		return nil, &ErrCorrupt{Codec: "s2", cause: err}
	}
	if len(out) != size {
		return nil, &ErrCorrupt{Codec: "s2", cause: fmt.Errorf("size mismatch: got %d, want %d", len(out), size)}
	}
	return out, nil
}
