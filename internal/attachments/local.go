// ABOUTME: Filesystem blob store rooted at a single directory
// ABOUTME: Writes go to a temp file and are renamed into place

package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBlobs stores blobs as files under Dir.
type LocalBlobs struct {
	dir string
}

var _ Blobs = (*LocalBlobs)(nil)

// NewLocalBlobs creates dir if needed and returns a store rooted there.
func NewLocalBlobs(dir string) (*LocalBlobs, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &LocalBlobs{dir: dir}, nil
}

func (l *LocalBlobs) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, filepath.FromSlash(cleaned)), nil
}

// Put writes r to key. A size of -1 means unknown; otherwise a short read
// is an error.
func (l *LocalBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("writing blob: got %d bytes, want %d", n, size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("moving blob into place: %w", err)
	}
	return nil
}

// Get opens the blob at key.
func (l *LocalBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Delete removes the blob at key. Missing blobs are not an error.
func (l *LocalBlobs) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}
