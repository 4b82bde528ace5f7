package photostore

import (
	"context"
	"io"
	"io/fs"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a photo's bytes do not exist at its locator.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `fs.ErrNotExist`.
var ErrNotFound = fs.ErrNotExist

// Store is a read-oriented byte source for photo locators. It sits below the
// image decoder: a locator goes in, encoded image bytes come out. Listing is
// provided so callers can build collections from a store, but collection
// construction itself stays with the caller.
type Store interface {
	// Open opens the photo bytes at the given locator for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// List returns the locators under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a photo's encoded bytes.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Fetcher is an optional fast path for stores that can return a whole
// object in one request (e.g. an S3 download) instead of ranged reads.
type Fetcher interface {
	// Fetch returns the complete bytes at the given locator.
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// ReadAll returns the complete bytes at the given locator, using the store's
// Fetcher fast path when available.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	if f, ok := s.(Fetcher); ok {
		return f.Fetch(ctx, name)
	}

	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	data := make([]byte, b.Size())
	if _, err := b.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

// Prewarm fetches the given locators concurrently, discarding the bytes.
// Useful against remote stores whose edge caches make the subsequent decode
// reads cheap. limit bounds the number of parallel requests; 0 means a
// conservative default.
func Prewarm(ctx context.Context, s Store, names []string, limit int) error {
	if limit <= 0 {
		limit = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := ReadAll(ctx, s, name)
			return err
		})
	}
	return g.Wait()
}
