// ABOUTME: Blob storage interface for attachment bytes
// ABOUTME: Keys are generated by the helpdesk service; metadata lives in the store

package attachments

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that are empty or escape the key space.
var ErrInvalidKey = errors.New("invalid blob key")

// Blobs stores attachment contents.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey normalises a slash-separated key and rejects anything that is
// absolute or climbs out of the root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
