// Package fake provides a scriptable extractor.Extractor for tests.
package fake

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/henriquebonfim/ultradl/internal/extractor"
)

// Extractor returns whatever Metadata/Formats/Err are configured,
// regardless of the URL passed in, and counts how many times each
// method was invoked so tests can assert on cache hit/miss behavior.
type Extractor struct {
	Metadata     extractor.Metadata
	Formats_     []extractor.Format
	DownloadData []byte
	Err          error

	ProbeCalls    atomic.Int32
	FormatsCalls  atomic.Int32
	DownloadCalls atomic.Int32
}

func (e *Extractor) Probe(ctx context.Context, url string) (extractor.Metadata, error) {
	e.ProbeCalls.Add(1)
	if e.Err != nil {
		return extractor.Metadata{}, e.Err
	}
	return e.Metadata, nil
}

func (e *Extractor) Formats(ctx context.Context, url string) ([]extractor.Format, error) {
	e.FormatsCalls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Formats_, nil
}

func (e *Extractor) Download(ctx context.Context, url, formatID string, dest io.Writer, onProgress func(extractor.DownloadProgress)) error {
	e.DownloadCalls.Add(1)
	if e.Err != nil {
		return e.Err
	}
	if onProgress != nil {
		onProgress(extractor.DownloadProgress{Percentage: 50, Speed: "1MiB/s", ETA: "00:01"})
		onProgress(extractor.DownloadProgress{Percentage: 100, Speed: "1MiB/s", ETA: "00:00"})
	}
	_, err := dest.Write(e.DownloadData)
	return err
}

var _ extractor.Extractor = (*Extractor)(nil)
