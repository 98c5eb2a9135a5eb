// Package blob stores attachment binaries. Backends map every failure to
// ErrStorage so callers can classify them without knowing the backend.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrStorage wraps any failure of the underlying storage backend.
	ErrStorage = errors.New("blob: storage error")
	// ErrNotFound is returned by Open when the object does not exist.
	ErrNotFound = errors.New("blob: object not found")
	// ErrInvalidKey rejects keys that would escape the storage root.
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Store is the binary storage service consumed by the attachment manager.
type Store interface {
	// Put writes the content under key and returns the stored path.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
	// Open streams the object content.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

func storageError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrStorage, op, key, err)
}

// CleanKey normalises a slash separated object key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	if cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
