package imagesource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"squarecrop/internal/netfetch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestParseDataURI(t *testing.T) {
	data, mediaType, err := ParseDataURI("data:image/png;base64,AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/png", mediaType)

	data, _, err = ParseDataURI("data:image/png;base64,AQIDBA")
	require.NoError(t, err, "unpadded base64")
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	data, mediaType, err = ParseDataURI("data:,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "text/plain", mediaType)

	_, _, err = ParseDataURI("image/png;base64,AQID")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
	_, _, err = ParseDataURI("data:image/png;base64")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
	_, _, err = ParseDataURI("data:image/png;base64,!!!")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
}

func TestSources(t *testing.T) {
	ctx := context.Background()

	rc, err := Bytes("abc").Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(readAll(t, rc)))

	rc, err = DataURI("data:image/gif;base64,R0lG").Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GIF", string(readAll(t, rc)))

	path := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(path, []byte("file"), 0o644))
	rc, err = File(path).Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "file", string(readAll(t, rc)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("remote"))
	}))
	defer server.Close()
	rc, err = Remote{URL: server.URL, Client: server.Client()}.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(readAll(t, rc)))
}

func TestParse(t *testing.T) {
	opts := netfetch.Options{MaxBytes: 10}
	assert.IsType(t, Reader{}, Parse("-", nil, opts))
	assert.IsType(t, DataURI(""), Parse("data:,x", nil, opts))
	assert.Equal(t, Remote{URL: "https://example.com/a.png", Options: opts}, Parse("https://example.com/a.png", nil, opts))
	assert.Equal(t, File("photos/a.png"), Parse("photos/a.png", nil, opts))
}
