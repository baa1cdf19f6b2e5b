package providers

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrContentNotFound is returned by Open for unknown objects.
var ErrContentNotFound = errors.New("content not found")

// ContentStore keeps opaque blobs under slash-separated object paths.
type ContentStore interface {
	UploadBytes(ctx context.Context, objectPath string, data []byte) (string, error)
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
}

type localContentStore struct {
	rootDir string
}

func NewLocalContentStore(rootDir string) ContentStore {
	return &localContentStore{rootDir: rootDir}
}

func (s *localContentStore) resolve(objectPath string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	if clean == string(filepath.Separator) || strings.Contains(objectPath, "..") {
		return "", errors.New("invalid object path")
	}
	return filepath.Join(s.rootDir, clean), nil
}

// UploadBytes writes data atomically and returns a file:// URL. Existing
// objects are left untouched.
func (s *localContentStore) UploadBytes(ctx context.Context, objectPath string, data []byte) (string, error) {
	dst, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	abs, _ := filepath.Abs(dst)
	if _, err := os.Stat(dst); err == nil {
		return "file://" + abs, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return "file://" + abs, nil
}

func (s *localContentStore) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	dst, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dst)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrContentNotFound
	}
	return f, err
}
