// Package imagesource provides the inputs the image loader accepts: raw
// bytes, data URIs, local files, standard input and remote URLs.
package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"squarecrop/internal/imageproc"
	"squarecrop/internal/netfetch"
)

var ErrInvalidDataURI = errors.New("invalid data uri")

type Bytes []byte

func (b Bytes) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// DataURI is an RFC 2397 "data:" URI.
type DataURI string

func (d DataURI) Open(ctx context.Context) (io.ReadCloser, error) {
	data, _, err := ParseDataURI(string(d))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ParseDataURI decodes the payload of a data URI and returns its media type.
func ParseDataURI(raw string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}
	mediaType := meta
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			// Some encoders drop the padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "="))
			if err != nil {
				return nil, "", errors.Join(ErrInvalidDataURI, err)
			}
		}
		return data, mediaType, nil
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", errors.Join(ErrInvalidDataURI, err)
	}
	return []byte(unescaped), mediaType, nil
}

type File string

func (f File) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(string(f))
}

// Reader wraps a stream that is read once, such as standard input.
type Reader struct {
	R io.Reader
}

func (r Reader) Open(ctx context.Context) (io.ReadCloser, error) {
	if rc, ok := r.R.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r.R), nil
}

// Remote is an http(s) image fetched on Open.
type Remote struct {
	URL     string
	Client  *http.Client
	Options netfetch.Options
}

func (r Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	return netfetch.Open(ctx, r.Client, r.URL, r.Options)
}

// Parse picks a source for a command-line argument: "-" is standard input,
// "data:" and http(s) prefixes select those sources, anything else is a path.
func Parse(arg string, client *http.Client, opts netfetch.Options) imageproc.Source {
	switch {
	case arg == "-":
		return Reader{R: os.Stdin}
	case strings.HasPrefix(arg, "data:"):
		return DataURI(arg)
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		return Remote{URL: arg, Client: client, Options: opts}
	default:
		return File(arg)
	}
}
