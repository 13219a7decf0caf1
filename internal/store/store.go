// Package store defines the key/value abstraction chunked backends read and
// write through.
//
// Keys are slash-separated paths relative to the image root, e.g.
// "0/zarr.json" or "0/c/0/0/0/3/7". Implementations must be safe for
// concurrent use; concurrent writes to the same key are last-write-wins and
// callers serialise them.
package store

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound indicates the key does not exist.
//
// Implementations wrap it with context:
//
//	return nil, fmt.Errorf("key %s: %w", key, store.ErrNotFound)
var ErrNotFound = errors.New("key not found")

// Store is a flat key/value namespace.
type Store interface {
	// Get returns the value stored under key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Location describes where the store lives, for logs and errors.
	Location() string

	// Close releases resources. Stores are unusable after Close.
	Close() error
}

// Join builds a key from path elements.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// Exists reports whether key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ValidKey rejects keys that could escape the store root.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
