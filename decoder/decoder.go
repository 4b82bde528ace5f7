// Package decoder turns photo locators into decoded bitmaps.
//
// The Decoder interface is the subsystem's opaque decode capability: format
// parsing is entirely its responsibility, and the cache layers above treat
// it as a black box that either yields pixels or an error. StoreDecoder is
// the default implementation, reading encoded bytes from a photostore and
// decoding them through the standard library's image registry.
package decoder

import (
	"context"
	"fmt"

	"github.com/primelux/slidecache/model"
)

// Decoder resolves a photo reference to a decoded bitmap.
//
// Implementations must honor ctx cancellation: a decode superseded by rapid
// navigation should return ctx.Err() promptly rather than finish the work.
type Decoder interface {
	Decode(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error)
}

// DecodeError indicates the bytes at a locator could not be decoded:
// corrupt file, unsupported format, or a failed read.
//
// The original underlying error can be accessed via errors.Unwrap.
type DecodeError struct {
	Locator string
	cause   error
}

// NewDecodeError wraps cause as a DecodeError for the given locator.
func NewDecodeError(locator string, cause error) *DecodeError {
	return &DecodeError{Locator: locator, cause: cause}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Locator, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }
