package imageproc

import (
	"bytes"
	"context"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Source is an encoded image the loader can open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

type LoadOptions struct {
	MaxBytes   int64
	MaxPixels  int
	AutoOrient bool
}

// Load reads and decodes src. Failures other than context cancellation are
// reported as *DecodeError.
func Load(ctx context.Context, src Source, opts LoadOptions) (*Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readSource(ctx, src, opts.MaxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{Err: err}
	}

	// Check the header first so oversized images are rejected before allocating pixels.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := ValidateDimensions(cfg.Width, cfg.Height, opts.MaxPixels); err != nil {
		return nil, &DecodeError{Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(opts.AutoOrient))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bmp, err := NewBitmap(img, format)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return bmp, nil
}

func readSource(ctx context.Context, src Source, maxBytes int64) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptySource
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// ValidateDimensions guards against images that are valid but too large for
// memory/time budgets. maxPixels <= 0 disables the check.
func ValidateDimensions(width, height, maxPixels int) error {
	if width <= 0 || height <= 0 {
		return ErrEmptyImage
	}
	if maxPixels <= 0 {
		return nil
	}
	if height > maxPixels/width {
		return ErrImageTooManyPixels
	}
	return nil
}
