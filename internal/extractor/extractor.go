// Package extractor defines the Metadata Extractor (component G): the
// control plane's boundary to whatever tool actually talks to the
// source platform (yt-dlp or similar). No concrete network
// implementation ships here — the spec treats probing and format
// resolution as an external capability — but the interface and a
// caching decorator do, so the orchestrator never depends on a
// concrete extractor.
package extractor

import (
	"context"
	"io"
)

// DownloadProgress is one observed point of a download's progress,
// passed to the caller-supplied callback in Extractor.Download.
type DownloadProgress struct {
	Percentage int
	Speed      string
	ETA        string
}

// Metadata is the descriptive information about a source URL,
// independent of any particular encoding.
type Metadata struct {
	ID        string
	Title     string
	Uploader  string
	Duration  int
	Thumbnail string
	URL       string
}

// Format describes one downloadable encoding of a source URL.
type Format struct {
	FormatID     string
	Extension    string
	Resolution   string
	Height       int
	Width        int
	FileSize     *int64
	VideoCodec   string
	AudioCodec   string
	QualityLabel string
	FormatNote   string
}

// Extractor resolves a source URL to its metadata, to the formats it
// can be downloaded in, and streams a chosen format's bytes. All three
// operations are backed by the same external tool in practice (the
// source platform only exposes one client capable of talking to it),
// so they share one interface rather than being split across
// packages.
type Extractor interface {
	Probe(ctx context.Context, url string) (Metadata, error)
	Formats(ctx context.Context, url string) ([]Format, error)

	// Download streams formatID's bytes for url into dest, invoking
	// onProgress at most as often as the implementation chooses to
	// sample — the orchestrator is responsible for throttling how often
	// it republishes those samples as job progress.
	Download(ctx context.Context, url, formatID string, dest io.Writer, onProgress func(DownloadProgress)) error
}
