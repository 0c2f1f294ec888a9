package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"squarecrop/internal/imageproc"
)

var ErrInvalidName = errors.New("invalid file name")

// Store saves crops into a local directory, the CLI's download target.
type Store struct {
	Dir string
	// Overwrite replaces an existing file instead of picking a numbered name.
	Overwrite bool
}

func New(dir string, overwrite bool) *Store {
	return &Store{Dir: dir, Overwrite: overwrite}
}

// SaveOutput writes out under its conventional file name and returns the
// path written.
func (s *Store) SaveOutput(ctx context.Context, out *imageproc.Output) (string, error) {
	return s.Save(ctx, out.Filename(), out.Data)
}

func (s *Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Dir == "" {
		return "", errors.New("output dir is required")
	}

	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !s.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	for i := 0; ; i++ {
		fullPath := filepath.Join(s.Dir, filepath.FromSlash(numbered(clean, i)))
		f, err := os.OpenFile(fullPath, flags, 0o644)
		if errors.Is(err, os.ErrExist) && i < 1000 {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(fullPath)
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return fullPath, nil
	}
}

// numbered turns "square-crop.jpg" into "square-crop-2.jpg" for i == 2.
func numbered(name string, i int) string {
	if i == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), i, ext)
}

func sanitizeName(name string) (string, error) {
	clean := path.Clean("/" + name)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", ErrInvalidName
	}
	if strings.Contains(clean, "..") || strings.Contains(clean, "/") {
		return "", ErrInvalidName
	}
	return clean, nil
}
