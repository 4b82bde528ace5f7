package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	// Register the baseline formats. Callers needing more (webp, tiff)
	// register them in their own main package.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/sync/singleflight"

	"github.com/primelux/slidecache/model"
	"github.com/primelux/slidecache/photostore"
	"github.com/primelux/slidecache/resource"
)

// ErrTooLarge is returned when an image exceeds the configured pixel limit.
var ErrTooLarge = errors.New("decoder: image exceeds pixel limit")

// StoreDecoder decodes photos whose locators resolve through a photostore.
//
// Concurrent decodes of the same photo are collapsed with singleflight, so
// even when the priority path and the prefetch path race on one photo only
// a single read+decode runs.
type StoreDecoder struct {
	store     photostore.Store
	rc        *resource.Controller
	maxPixels int64

	group singleflight.Group
}

// StoreDecoderOption configures a StoreDecoder.
type StoreDecoderOption func(*StoreDecoder)

// WithResourceController throttles the decoder's byte reads through the
// controller's IO limiter.
func WithResourceController(rc *resource.Controller) StoreDecoderOption {
	return func(d *StoreDecoder) {
		d.rc = rc
	}
}

// WithMaxPixels rejects images whose declared dimensions exceed n pixels
// before any pixel data is decoded. 0 disables the check.
func WithMaxPixels(n int64) StoreDecoderOption {
	return func(d *StoreDecoder) {
		d.maxPixels = n
	}
}

// NewStoreDecoder creates a decoder reading from the given store.
func NewStoreDecoder(store photostore.Store, optFns ...StoreDecoderOption) *StoreDecoder {
	d := &StoreDecoder{
		store:     store,
		maxPixels: 512 << 20, // 512 megapixels; far beyond any sane photo
	}
	for _, fn := range optFns {
		fn(d)
	}
	return d
}

// Decode implements Decoder.
func (d *StoreDecoder) Decode(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error) {
	key := string(ref.ID)

	// singleflight shares one execution across concurrent callers, and the
	// shared work runs under the leader's context. A follower that receives
	// the leader's cancellation while still live retries as the new leader,
	// so navigation cancelling one caller never fails the others.
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ch := d.group.DoChan(key, func() (any, error) {
			return d.decode(ctx, ref)
		})

		select {
		case <-ctx.Done():
			d.group.Forget(key)
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(*model.Bitmap), nil
			}
			if isContextDone(res.Err) {
				d.group.Forget(key)
				continue
			}
			return nil, res.Err
		}
	}
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (d *StoreDecoder) decode(ctx context.Context, ref model.PhotoRef) (*model.Bitmap, error) {
	data, err := photostore.ReadAll(ctx, d.store, ref.Locator)
	if err != nil {
		if errors.Is(err, photostore.ErrNotFound) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NewDecodeError(ref.Locator, err)
	}

	// Account the read against the shared IO budget so background prefetch
	// cannot starve the storage path.
	if err := d.rc.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}

	if d.maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, NewDecodeError(ref.Locator, err)
		}
		if px := int64(cfg.Width) * int64(cfg.Height); px > d.maxPixels {
			return nil, NewDecodeError(ref.Locator, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, NewDecodeError(ref.Locator, err)
	}

	return FromImage(img), nil
}

// FromImage converts any image.Image into the cache's bitmap representation
// (NRGBA pixels). The fast path reuses an NRGBA backing array directly.
func FromImage(img image.Image) *model.Bitmap {
	bounds := img.Bounds()

	if src, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) {
		return &model.Bitmap{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Stride: src.Stride,
			Pix:    src.Pix,
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return &model.Bitmap{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Stride: dst.Stride,
		Pix:    dst.Pix,
	}
}
