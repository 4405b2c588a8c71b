// Package blob stores raw uploaded files. The service keeps originals so a
// document can be re-ingested after splitter or embedder changes without
// asking the client to upload again.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/corpusworks/corpusd/internal/model"
)

// Store persists raw upload bytes under caller-chosen keys.
type Store interface {
	// Put writes r under key and returns the storage URI, the hex-encoded
	// SHA-256 of the content, and the byte size.
	Put(ctx context.Context, key string, r io.Reader) (uri string, sum string, size int64, err error)
	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DefaultDir returns the default blob directory (~/.corpusd/blobs),
// creating it if needed.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("blob: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".corpusd", "blobs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("blob: could not create %s: %w", dir, err)
	}
	return dir, nil
}

// FS stores blobs as plain files under a root directory. Writes go through a
// temp file and rename so a crashed upload never leaves a partial blob.
type FS struct {
	root string
}

// NewFS returns a filesystem store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Put implements Store.
func (s *FS) Put(_ context.Context, key string, r io.Reader) (string, string, int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", 0, fmt.Errorf("blob: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("blob: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		tmp.Close()
		return "", "", 0, fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", 0, fmt.Errorf("blob: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", 0, fmt.Errorf("blob: finalize: %w", err)
	}

	return "file://" + path, hex.EncodeToString(hash.Sum(nil)), size, nil
}

// Delete implements Store.
func (s *FS) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete: %w", err)
	}
	return nil
}

// resolve maps key to an absolute path and rejects anything that would
// escape the root.
func (s *FS) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob: empty key: %w", model.ErrValidation)
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob: key %q escapes root: %w", key, model.ErrValidation)
	}
	return path, nil
}
