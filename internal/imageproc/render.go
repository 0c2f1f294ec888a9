package imageproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Format is the output container.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Encoding selects the output container and, for lossy formats, a quality
// between 0.0 and 1.0.
type Encoding struct {
	Format  Format
	Quality float64
}

var DefaultEncoding = Encoding{Format: FormatJPEG, Quality: 0.92}

func (e Encoding) Validate() error {
	if _, err := ParseFormat(string(e.Format)); err != nil {
		return err
	}
	if math.IsNaN(e.Quality) || e.Quality < 0 || e.Quality > 1 {
		return fmt.Errorf("quality must be between 0.0 and 1.0, got %v", e.Quality)
	}
	return nil
}

func (e Encoding) jpegQuality() int {
	q := int(math.Round(e.Quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// Output is an encoded square crop.
type Output struct {
	Data   []byte
	Format Format
	Width  int
	Height int
}

const OutputBaseName = "square-crop"

func (o *Output) ContentType() string { return o.Format.ContentType() }

func (o *Output) Filename() string { return OutputBaseName + "." + o.Format.Ext() }

func (o *Output) DataURI() string {
	return "data:" + o.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(o.Data)
}

// MaxSurfacePixels bounds a single render surface.
const MaxSurfacePixels = 1 << 28

// Pixel buffers for 8-bit (4 bytes per pixel) and 16-bit (8 bytes per pixel)
// surfaces.
var surfaces, deepSurfaces sync.Pool

// surfaceDepth returns the bytes per pixel a render of src needs. Sources with
// 16-bit channels keep them when the output is PNG; JPEG is 8-bit regardless.
func surfaceDepth(src image.Image, enc Encoding) int {
	if enc.Format != FormatPNG {
		return 4
	}
	switch src.(type) {
	case *image.NRGBA64, *image.RGBA64, *image.Gray16:
		return 8
	}
	return 4
}

// acquireSurface returns a w x h surface with bpp bytes per pixel and a func
// that hands its buffer back to the pool. Pooled buffers are not cleared;
// callers overwrite every pixel.
func acquireSurface(w, h, bpp int) (draw.Image, func(), error) {
	if w <= 0 || h <= 0 || h > MaxSurfacePixels/w {
		return nil, nil, fmt.Errorf("%w: %dx%d", ErrSurfaceTooLarge, w, h)
	}
	pool := &surfaces
	if bpp == 8 {
		pool = &deepSurfaces
	}
	n := bpp * w * h
	var pix []byte
	if p, ok := pool.Get().(*[]byte); ok && cap(*p) >= n {
		pix = (*p)[:n]
	} else {
		pix = make([]byte, n)
	}

	rect := image.Rect(0, 0, w, h)
	var surface draw.Image = &image.NRGBA{Pix: pix, Stride: 4 * w, Rect: rect}
	if bpp == 8 {
		surface = &image.NRGBA64{Pix: pix, Stride: 8 * w, Rect: rect}
	}
	release := func() {
		buf := pix[:0]
		pool.Put(&buf)
	}
	return surface, release, nil
}

// copyRegion writes region of src into dst at the origin. dst must be exactly
// region-sized.
func copyRegion(dst draw.Image, src image.Image, region Region) {
	origin := src.Bounds().Min.Add(image.Pt(region.X, region.Y))
	switch d := dst.(type) {
	case *image.NRGBA:
		if s, ok := src.(*image.NRGBA); ok {
			copyRows(d.Pix, d.Stride, s.Pix[s.PixOffset(origin.X, origin.Y):], s.Stride, 4*region.Width, region.Height)
			return
		}
	case *image.NRGBA64:
		if s, ok := src.(*image.NRGBA64); ok {
			copyRows(d.Pix, d.Stride, s.Pix[s.PixOffset(origin.X, origin.Y):], s.Stride, 8*region.Width, region.Height)
			return
		}
	}
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)
}

func copyRows(dst []byte, dstStride int, src []byte, srcStride, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
}

// Extract copies region of b onto a new 8-bit surface owned by the caller.
func Extract(b *Bitmap, region Region) (*image.NRGBA, error) {
	if err := region.Validate(b.Width(), b.Height()); err != nil {
		return nil, err
	}
	if region.Height > MaxSurfacePixels/region.Width {
		return nil, &RenderError{Op: "allocate", Err: ErrSurfaceTooLarge}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, region.Width, region.Height))
	copyRegion(dst, b.img, region)
	return dst, nil
}

// Render draws region of b onto a scratch surface and encodes it. The surface
// is released before Render returns.
func Render(ctx context.Context, b *Bitmap, region Region, enc Encoding) (*Output, error) {
	if err := region.Validate(b.Width(), b.Height()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	surface, release, err := acquireSurface(region.Width, region.Height, surfaceDepth(b.img, enc))
	if err != nil {
		return nil, &RenderError{Op: "allocate", Err: err}
	}
	defer release()

	copyRegion(surface, b.img, region)

	data, err := Encode(surface, enc)
	if err != nil {
		return nil, &RenderError{Op: "encode", Err: err}
	}
	return &Output{
		Data:   data,
		Format: enc.Format,
		Width:  region.Width,
		Height: region.Height,
	}, nil
}

func Encode(img image.Image, enc Encoding) ([]byte, error) {
	var buf bytes.Buffer
	switch enc.Format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(enc.jpegQuality())); err != nil {
			return nil, err
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, enc.Format)
	}
	return buf.Bytes(), nil
}
