package netfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrTooLarge         = errors.New("content exceeds maximum size")
	ErrDownloadFailed   = errors.New("download failed")
	ErrInvalidURL       = errors.New("url must use http or https")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrNotImage         = errors.New("remote content is not an image")
)

type Options struct {
	MaxBytes     int64
	MaxRedirects int
	Timeout      time.Duration
}

// Body streams a remote image. Close must be called.
type Body struct {
	io.ReadCloser
	ContentType string
	cancel      context.CancelFunc
}

func (b *Body) Close() error {
	err := b.ReadCloser.Close()
	if b.cancel != nil {
		b.cancel()
	}
	return err
}

// Open starts a GET for rawURL with scheme checks, a redirect limit and a size
// guard (Content-Length check plus a hard read cap).
func Open(ctx context.Context, client *http.Client, rawURL string, opts Options) (*Body, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if !isAllowedScheme(rawURL) {
		return nil, ErrInvalidURL
	}

	clientCopy := *client
	redirectLimit := opts.MaxRedirects
	if redirectLimit <= 0 {
		redirectLimit = 3
	}
	clientCopy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= redirectLimit {
			return ErrTooManyRedirects
		}
		if !isAllowedScheme(req.URL.String()) {
			return ErrInvalidURL
		}
		return nil
	}

	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("User-Agent", "square-crop/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := clientCopy.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !isImageType(contentType) {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}
	if opts.MaxBytes > 0 && resp.ContentLength > opts.MaxBytes {
		resp.Body.Close()
		cancel()
		return nil, ErrTooLarge
	}

	var body io.ReadCloser = resp.Body
	if opts.MaxBytes > 0 {
		body = &capReader{rc: resp.Body, remaining: opts.MaxBytes}
	}
	return &Body{ReadCloser: body, ContentType: contentType, cancel: cancel}, nil
}

// capReader fails with ErrTooLarge once more than remaining bytes are read.
type capReader struct {
	rc        io.ReadCloser
	remaining int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.rc.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func (c *capReader) Close() error { return c.rc.Close() }

func isAllowedScheme(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		return true
	default:
		return false
	}
}

// isImageType accepts image/* and generic binary types; empty means unknown
// and is left to the decoder.
func isImageType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
