package codec

import "fmt"

// Noop stores buffers verbatim. Useful when demotion-tier sizing must be
// deterministic, or to measure the cost of compression itself.
type Noop struct{}

// Name implements Codec.
func (Noop) Name() string { return "noop" }

// Compress implements Codec. The copy keeps the tier's ownership of the
// buffer independent of the caller's.
func (Noop) Compress(src []byte) []byte {
	return append([]byte(nil), src...)
}

// Decompress implements Codec.
func (Noop) Decompress(enc []byte, size int) ([]byte, error) {
	if len(enc) != size {
		return nil, &ErrCorrupt{Codec: "noop", cause: fmt.Errorf("size mismatch: got %d, want %d", len(enc), size)}
	}
	return append([]byte(nil), enc...), nil
}
