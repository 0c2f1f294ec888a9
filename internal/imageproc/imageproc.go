package imageproc

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrEmptySource        = errors.New("image source is empty")
	ErrImageTooLarge      = errors.New("image exceeds maximum size")
	ErrImageTooManyPixels = errors.New("image exceeds maximum pixel count")
	ErrEmptyImage         = errors.New("image has no pixels")
	ErrSurfaceTooLarge    = errors.New("pixel surface exceeds maximum size")
	ErrUnsupportedFormat  = errors.New("unsupported output format")
)

// DecodeError reports a source that could not be read or decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode image: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// RenderError reports a failure to acquire the pixel surface or encode it.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string { return "render " + e.Op + ": " + e.Err.Error() }

func (e *RenderError) Unwrap() error { return e.Err }

// InvariantViolation is returned when a region does not fit the bitmap it is
// rendered from. It indicates a programming error, not bad input.
type InvariantViolation struct {
	Region Region
	Width  int
	Height int
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("crop invariant violated: %s (region %s, source %dx%d)", e.Reason, e.Region, e.Width, e.Height)
}

// Bitmap is a decoded image with positive dimensions.
type Bitmap struct {
	img    image.Image
	format string
}

func NewBitmap(img image.Image, format string) (*Bitmap, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	return &Bitmap{img: img, format: format}, nil
}

func (b *Bitmap) Width() int { return b.img.Bounds().Dx() }

func (b *Bitmap) Height() int { return b.img.Bounds().Dy() }

// Format is the decoder name reported by image.DecodeConfig, e.g. "jpeg".
func (b *Bitmap) Format() string { return b.format }

func (b *Bitmap) Image() image.Image { return b.img }

// Region is a crop rectangle relative to the bitmap origin.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// Validate checks that r is a non-empty square inside a width x height source.
func (r Region) Validate(width, height int) error {
	violation := func(reason string) error {
		return &InvariantViolation{Region: r, Width: width, Height: height, Reason: reason}
	}
	switch {
	case r.X < 0 || r.Y < 0:
		return violation("negative offset")
	case r.Width <= 0 || r.Height <= 0:
		return violation("empty region")
	case r.Width != r.Height:
		return violation("region is not square")
	case r.X+r.Width > width || r.Y+r.Height > height:
		return violation("region exceeds source bounds")
	}
	return nil
}

// Plan returns the centered square region of b.
func Plan(b *Bitmap) Region {
	return PlanSize(b.Width(), b.Height())
}

// PlanSize computes the largest centered square for a width x height source.
// Odd surpluses are truncated toward the top-left edge.
func PlanSize(width, height int) Region {
	side := min(width, height)
	return Region{
		X:      (width - side) / 2,
		Y:      (height - side) / 2,
		Width:  side,
		Height: side,
	}
}
