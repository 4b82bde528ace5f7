package slidecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/primelux/slidecache/photostore"
)

var (
	// ErrClosed is returned when operating on a closed Loader.
	ErrClosed = errors.New("slidecache: loader closed")

	// ErrNotFound indicates a photo's bytes were missing at decode time.
	ErrNotFound = errors.New("slidecache: photo not found")

	// ErrCancelled indicates a load was superseded or explicitly cancelled.
	// It is an expected side effect of rapid navigation: callers must treat
	// it as silence, never as a failure to report.
	ErrCancelled = errors.New("slidecache: load cancelled")

	// ErrInvalidIndex is returned when an index is outside the collection.
	ErrInvalidIndex = errors.New("slidecache: index out of range")
)

// IsCancellation reports whether err is a cancellation rather than a real
// failure. Cancellations are swallowed throughout the subsystem: they are
// never logged as errors, never counted as failures, and never surfaced to
// the user.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// translateError normalizes errors crossing the public boundary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if errors.Is(err, photostore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
