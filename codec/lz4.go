package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4 compresses pixel buffers with the lz4 block format. An alternative to
// S2 for callers standardizing on lz4 elsewhere in their pipeline.
type LZ4 struct{}

// Name implements Codec.
func (LZ4) Name() string { return "lz4" }

// Compress implements Codec.
func (LZ4) Compress(src []byte) []byte {
	var c lz4.Compressor
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := c.CompressBlock(src, dst)
	if err != nil || n == 0 || n >= len(src) {
		// n == 0 means incompressible.
		return nil
	}
	return dst[:n]
}

// Decompress implements Codec.
func (LZ4) Decompress(enc []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(enc, out)
	if err != nil {
		return nil, &ErrCorrupt{Codec: "lz4", cause: err}
	}
	if n != size {
		return nil, &ErrCorrupt{Codec: "lz4", cause: fmt.Errorf("size mismatch: got %d, want %d", n, size)}
	}
	return out, nil
}
