// Package localfs implements storage.Backend over the local
// filesystem: parent directories are created on demand and writes are
// made atomic via a write-to-temp-then-rename sequence, so a reader
// never observes a partially-written object.
package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/henriquebonfim/ultradl/internal/storage"
)

// Backend roots every path under Root.
type Backend struct {
	Root string
}

// New creates a Backend rooted at root. root is created lazily on the
// first Save.
func New(root string) *Backend {
	return &Backend{Root: root}
}

func (b *Backend) resolve(path string) string {
	return filepath.Join(b.Root, filepath.FromSlash(path))
}

// Save writes r to path via a temp file in the same directory,
// followed by an atomic os.Rename, so concurrent readers never see a
// half-written object.
func (b *Backend) Save(ctx context.Context, path string, r io.Reader) error {
	full := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}

// Get opens path for reading.
func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes path. Deleting an absent path is not an error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := os.Remove(b.resolve(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path is present.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(b.resolve(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the byte length of path.
func (b *Backend) Size(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(b.resolve(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

var _ storage.Backend = (*Backend)(nil)
