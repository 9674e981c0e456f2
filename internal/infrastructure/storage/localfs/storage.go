// Package localfs stages uploaded images on the local filesystem until
// their batch has been processed. In queue mode the API and the workers
// must share the directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultDir = "./data/staging"

type Storage struct {
	dir string
}

func New(dir string) (*Storage, error) {
	if strings.TrimSpace(dir) == "" {
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return &Storage{dir: dir}, nil
}

// Save writes to a temporary file and renames it into place, so a reader
// never observes a half-written image.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) (err error) {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, data); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open staged %s: %w", key, err)
	}
	return f, nil
}

// Delete is idempotent: a missing key is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged %s: %w", key, err)
	}
	return nil
}

// resolve maps key to a file directly under dir. Keys with separators or a
// leading dot are rejected; the latter also keeps them clear of temp files.
func (s *Storage) resolve(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid staging key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}
