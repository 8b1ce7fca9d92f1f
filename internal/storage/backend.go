// Package storage defines the Storage Backend (component D): binary
// blob put/get/delete/size/exists behind a common interface, so the
// core never assumes a particular physical backend. Two
// implementations ship: internal/storage/localfs (filesystem) and
// internal/storage/gcsbucket (cloud bucket, which additionally issues
// signed URLs).
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Size when path does not exist.
var ErrNotFound = errors.New("storage: not found")

// Backend is the capability set every physical storage implementation
// must provide, per spec §4.4.
type Backend interface {
	// Save writes the full contents of r to path, creating any parent
	// structure the backend needs. A previous object at path is
	// overwritten.
	Save(ctx context.Context, path string, r io.Reader) error

	// Get opens path for reading. The caller must Close the returned
	// stream. Returns ErrNotFound if path does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns the byte length of path. Returns ErrNotFound if
	// path does not exist.
	Size(ctx context.Context, path string) (int64, error)
}

// SignedURLIssuer is an optional capability a Backend may additionally
// implement: issuing a time-limited URL that grants direct read access
// to an object without routing the bytes back through this service.
// Only the cloud bucket backend implements it; callers must type-
// assert for it.
type SignedURLIssuer interface {
	SignedURL(ctx context.Context, path string, ttl int64) (string, error)
}
