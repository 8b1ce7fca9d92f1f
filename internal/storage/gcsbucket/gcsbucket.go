// Package gcsbucket implements storage.Backend over a Google Cloud
// Storage bucket, additionally implementing storage.SignedURLIssuer
// via the bucket's own V4 signer. Selected when a bucket name is
// configured (see internal/storage.Select).
package gcsbucket

import (
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/storage"

	ustorage "github.com/henriquebonfim/ultradl/internal/storage"
)

// Backend adapts a *storage.Client/bucket pair to storage.Backend.
type Backend struct {
	client *storage.Client
	bucket string

	// GoogleAccessID/PrivateKey are used to mint V4 signed URLs. They
	// are optional: a Backend without them still satisfies Backend,
	// it just cannot be used as a storage.SignedURLIssuer.
	GoogleAccessID string
	PrivateKey     []byte
}

// New wraps an already-configured *storage.Client for bucket.
func New(client *storage.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

func (b *Backend) object(path string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(path)
}

// Save uploads the full contents of r to path.
func (b *Backend) Save(ctx context.Context, path string, r io.Reader) error {
	w := b.object(path).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Get opens path for reading.
func (b *Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := b.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ustorage.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Delete removes path. Deleting an absent path is not an error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.object(path).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path is present.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the byte length of path.
func (b *Backend) Size(ctx context.Context, path string) (int64, error) {
	attrs, err := b.object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, ustorage.ErrNotFound
		}
		return 0, err
	}
	return attrs.Size, nil
}

// SignedURL issues a V4 GET signed URL for path valid for ttlSeconds.
// It requires GoogleAccessID/PrivateKey to be set; a backend wired
// from Application Default Credentials without an explicit key cannot
// sign and returns an error naming the missing configuration.
func (b *Backend) SignedURL(ctx context.Context, path string, ttlSeconds int64) (string, error) {
	if b.GoogleAccessID == "" || len(b.PrivateKey) == 0 {
		return "", errors.New("gcsbucket: signed URL issuance requires GoogleAccessID and PrivateKey")
	}
	return b.client.Bucket(b.bucket).SignedURL(path, &storage.SignedURLOptions{
		GoogleAccessID: b.GoogleAccessID,
		PrivateKey:     b.PrivateKey,
		Method:         "GET",
		Expires:        time.Now().Add(time.Duration(ttlSeconds) * time.Second),
	})
}

var (
	_ ustorage.Backend         = (*Backend)(nil)
	_ ustorage.SignedURLIssuer = (*Backend)(nil)
)
