// Package cached wraps an extractor.Extractor with a KV-backed cache,
// so repeated probes of the same URL within a short window don't
// re-invoke the underlying (expensive, rate-limited) extraction tool.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/henriquebonfim/ultradl/internal/extractor"
	"github.com/henriquebonfim/ultradl/internal/kv"
)

// TTL is the cache lifetime for both metadata and formats entries, per
// spec §6's `video:metadata:<sha256>`/`video:formats:<sha256>` keys.
const TTL = 5 * time.Minute

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Extractor decorates an underlying extractor.Extractor with a
// read-through cache.
type Extractor struct {
	next  extractor.Extractor
	store kv.Store
}

// New wraps next with a cache backed by store.
func New(next extractor.Extractor, store kv.Store) *Extractor {
	return &Extractor{next: next, store: store}
}

func (e *Extractor) Probe(ctx context.Context, url string) (extractor.Metadata, error) {
	key := "video:metadata:" + hashURL(url)

	var cached extractor.Metadata
	err := e.store.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return extractor.Metadata{}, err
	}

	meta, err := e.next.Probe(ctx, url)
	if err != nil {
		return extractor.Metadata{}, err
	}
	_ = e.store.SetJSON(ctx, key, meta, TTL)
	return meta, nil
}

func (e *Extractor) Formats(ctx context.Context, url string) ([]extractor.Format, error) {
	key := "video:formats:" + hashURL(url)

	var cached []extractor.Format
	err := e.store.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	formats, err := e.next.Formats(ctx, url)
	if err != nil {
		return nil, err
	}
	_ = e.store.SetJSON(ctx, key, formats, TTL)
	return formats, nil
}

// Download is never cached — it passes straight through.
func (e *Extractor) Download(ctx context.Context, url, formatID string, dest io.Writer, onProgress func(extractor.DownloadProgress)) error {
	return e.next.Download(ctx, url, formatID, dest, onProgress)
}

var _ extractor.Extractor = (*Extractor)(nil)
