// Package storage defines where collected artifacts go. Backends live in the
// local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore persists an artifact under a relative path and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Discard is a BlobStore that stores nothing and returns an empty URI. It is
// used when artifact export is disabled.
type Discard struct{}

// PutObject drains r.
func (Discard) PutObject(_ context.Context, _, _ string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "", err
}
