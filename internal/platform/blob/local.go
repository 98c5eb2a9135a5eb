package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local keeps objects as files below a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory when missing.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, storageError("mkdir", root, err)
	}
	return &Local{root: root}, nil
}

// Root returns the storage directory.
func (l *Local) Root() string {
	return l.root
}

// Put writes to a temp file, fsyncs it and renames it into place so readers
// never observe a partial object.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fullPath := filepath.Join(l.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", storageError("mkdir", cleaned, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", storageError("create", cleaned, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	written, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return "", storageError("write", cleaned, err)
	}
	if size >= 0 && written != size {
		cleanup()
		return "", storageError("write", cleaned, fmt.Errorf("short write: %d of %d bytes", written, size))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", storageError("fsync", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", storageError("close", cleaned, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", storageError("rename", cleaned, err)
	}
	return cleaned, nil
}

// Delete removes the file. A missing file is treated as already deleted.
func (l *Local) Delete(ctx context.Context, path string) error {
	cleaned, err := CleanKey(path)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(l.root, filepath.FromSlash(cleaned)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageError("delete", cleaned, err)
	}
	return nil
}

// Open returns the file for reading. The caller closes it.
func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	cleaned, err := CleanKey(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(cleaned)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
		}
		return nil, storageError("open", cleaned, err)
	}
	return f, nil
}

// Exists reports whether an object is present on disk.
func (l *Local) Exists(path string) bool {
	cleaned, err := CleanKey(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(l.root, filepath.FromSlash(cleaned)))
	return err == nil
}
