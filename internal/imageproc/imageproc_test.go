package imageproc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
)

type byteSource struct {
	data   []byte
	closed bool
}

func (s *byteSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s, nil
}

func (s *byteSource) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *byteSource) Close() error {
	s.closed = true
	return nil
}

// gradient returns an opaque image whose pixels encode their coordinates.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestLoadMaxPixels(t *testing.T) {
	src := &byteSource{data: encodePNG(t, gradient(10, 10))}
	_, err := Load(context.Background(), src, LoadOptions{MaxPixels: 50})
	if !errors.Is(err, ErrImageTooManyPixels) {
		t.Fatalf("expected ErrImageTooManyPixels, got %v", err)
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if !src.closed {
		t.Fatalf("expected source to be closed")
	}
}

func TestLoadMaxBytes(t *testing.T) {
	data := encodePNG(t, gradient(16, 16))
	_, err := Load(context.Background(), &byteSource{data: data}, LoadOptions{MaxBytes: int64(len(data) - 1)})
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestLoadEmptyAndCorrupt(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"corrupt": []byte("definitely not an image"),
		"truncated": func() []byte {
			full := encodePNG(t, gradient(8, 8))
			return full[:len(full)/2]
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			src := &byteSource{data: data}
			bmp, err := Load(context.Background(), src, LoadOptions{})
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if bmp != nil {
				t.Fatalf("expected no bitmap on failure")
			}
			if !src.closed {
				t.Fatalf("expected source to be closed")
			}
		})
	}
}

func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, &byteSource{data: encodePNG(t, gradient(2, 2))}, LoadOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadReportsDimensions(t *testing.T) {
	bmp, err := Load(context.Background(), &byteSource{data: encodePNG(t, gradient(40, 30))}, LoadOptions{AutoOrient: true})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if bmp.Width() != 40 || bmp.Height() != 30 {
		t.Fatalf("unexpected dimensions: %dx%d", bmp.Width(), bmp.Height())
	}
	if bmp.Format() != "png" {
		t.Fatalf("unexpected format: %s", bmp.Format())
	}
}

func TestRenderRejectsMismatchedRegion(t *testing.T) {
	bmp, err := NewBitmap(gradient(10, 10), "png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = Render(context.Background(), bmp, Region{X: 5, Y: 5, Width: 10, Height: 10}, DefaultEncoding)
	var violation *InvariantViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected *InvariantViolation, got %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	data, err := Encode(img, Encoding{Format: FormatJPEG, Quality: 0.8})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty jpeg data")
	}

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != 2 || decoded.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds: %v", decoded.Bounds())
	}
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	_, err := Encode(gradient(1, 1), Encoding{Format: "tiff"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOutputNaming(t *testing.T) {
	out := &Output{Data: []byte{1, 2, 3}, Format: FormatJPEG}
	if out.Filename() != "square-crop.jpg" {
		t.Fatalf("unexpected filename: %s", out.Filename())
	}
	if out.ContentType() != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", out.ContentType())
	}
	if out.DataURI() != "data:image/jpeg;base64,AQID" {
		t.Fatalf("unexpected data uri: %s", out.DataURI())
	}
}
